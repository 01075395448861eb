// Package viewstore keeps saved viewport bookmarks: a short base62 code maps
// to a view window, its grid increments and the reading filter it showed.
package viewstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"waterway-dashboard/pkg/viewport"
)

// ErrNotFound is returned by Load for unknown codes.
var ErrNotFound = errors.New("saved view not found")

const (
	base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	codeLength     = 8
	maxAttempts    = 64
)

// SavedView is one bookmark.
type SavedView struct {
	Code      string             `json:"code"`
	View      viewport.ViewRect  `json:"view"`
	Grid      viewport.AxisLines `json:"grid"`
	Measure   string             `json:"measure,omitempty"`
	Location  string             `json:"location,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

// Store wraps a database/sql handle. The statements stick to the subset of
// SQL genji and sqlite share.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects with driverName ("genji" in production) and creates the
// table when missing.
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open view store: %w", err)
	}
	// embedded engines keep one writer
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New uses an already opened handle.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS saved_views (
	code TEXT PRIMARY KEY,
	x DOUBLE,
	y DOUBLE,
	w DOUBLE,
	h DOUBLE,
	grid_x DOUBLE,
	grid_y DOUBLE,
	measure TEXT,
	location TEXT,
	created_at INTEGER
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create saved_views: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores v under a fresh random code and returns it. v.Code is ignored.
func (s *Store) Save(ctx context.Context, v SavedView) (string, error) {
	if v.View.W <= 0 || v.View.H <= 0 {
		return "", fmt.Errorf("save view: window must have positive size")
	}
	created := s.now().UTC()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		code, err := randomCode(codeLength)
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO saved_views (code, x, y, w, h, grid_x, grid_y, measure, location, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			code, v.View.X, v.View.Y, v.View.W, v.View.H, v.Grid.X, v.Grid.Y,
			strings.TrimSpace(v.Measure), strings.TrimSpace(v.Location), created.Unix())
		if err == nil {
			return code, nil
		}
		if !isDuplicate(err) {
			return "", fmt.Errorf("save view: %w", err)
		}
	}
	return "", fmt.Errorf("save view: exhausted %d attempts", maxAttempts)
}

// Load returns the view stored under code.
func (s *Store) Load(ctx context.Context, code string) (SavedView, error) {
	code = strings.TrimSpace(code)
	if !isBase62(code) {
		return SavedView{}, ErrNotFound
	}
	var (
		v       SavedView
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT code, x, y, w, h, grid_x, grid_y, measure, location, created_at FROM saved_views WHERE code = ?`,
		code).Scan(&v.Code, &v.View.X, &v.View.Y, &v.View.W, &v.View.H, &v.Grid.X, &v.Grid.Y,
		&v.Measure, &v.Location, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return SavedView{}, ErrNotFound
	}
	if err != nil {
		return SavedView{}, fmt.Errorf("load view %s: %w", code, err)
	}
	v.CreatedAt = time.Unix(created, 0).UTC()
	return v, nil
}

// randomCode draws crypto random bytes and maps them onto base62,
// rejecting bytes at or above 248 so every symbol is equally likely.
func randomCode(length int) (string, error) {
	buf := make([]byte, length)
	var b [1]byte
	for i := 0; i < length; {
		if _, err := rand.Read(b[:]); err != nil {
			return "", err
		}
		if v := int(b[0]); v < 62*4 {
			buf[i] = base62Alphabet[v%62]
			i++
		}
	}
	return string(buf), nil
}

func isBase62(code string) bool {
	if code == "" {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(base62Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// isDuplicate matches the primary-key violations of sqlite and genji.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "constraint")
}
