// Package readingsarchive keeps a tar.gz export of every reading, one JSON
// document per location, so bulk consumers do not page through the REST API.
package readingsarchive

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"waterway-dashboard/pkg/database"
)

// Info describes the current snapshot on disk.
type Info struct {
	Path    string
	ModTime time.Time
}

// ErrStopped is returned by Fetch once the generator's context has ended.
var ErrStopped = errors.New("archive generator stopped")

// Generator rebuilds the archive in the background. A coordinator goroutine
// owns the current snapshot; callers reach it over channels.
type Generator struct {
	requests chan chan result
	rebuild  chan struct{}
	done     chan struct{}
}

type result struct {
	info Info
	err  error
}

// Start launches the builder and coordinator goroutines. The first build is
// scheduled immediately; Fetch blocks until a snapshot exists.
func Start(ctx context.Context, db *database.Database, destPath string, every time.Duration, logf func(string, ...any)) *Generator {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	if every <= 0 {
		every = FrequencyDaily.Interval()
	}
	destPath = filepath.Clean(destPath)

	g := &Generator{
		requests: make(chan chan result),
		rebuild:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	builds := make(chan struct{}, 1)
	results := make(chan result, 1)
	trigger := func() {
		select {
		case builds <- struct{}{}:
		default:
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-builds:
				res := runBuild(ctx, db, destPath)
				if res.err != nil {
					logf("[archive] rebuild failed: %v", res.err)
				} else {
					logf("[archive] ready: %s", res.info.Path)
				}
				select {
				case <-ctx.Done():
					return
				case results <- res:
				}
			}
		}
	}()

	trigger()
	logf("[archive] initial build scheduled: %s", destPath)

	go func() {
		defer close(g.done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		var (
			current result
			have    bool
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trigger()
			case <-g.rebuild:
				trigger()
			case res := <-results:
				current, have = res, true
			case ch := <-g.requests:
				if !have || current.err != nil {
					trigger()
					select {
					case <-ctx.Done():
						ch <- result{err: ctx.Err()}
						return
					case res := <-results:
						current, have = res, true
					}
				}
				ch <- current
			}
		}
	}()

	return g
}

// Rebuild asks for a fresh snapshot without waiting for it.
func (g *Generator) Rebuild() {
	select {
	case g.rebuild <- struct{}{}:
	default:
	}
}

// Fetch returns the current snapshot, building one first if none exists or
// the last build failed.
func (g *Generator) Fetch(ctx context.Context) (Info, error) {
	ch := make(chan result, 1)
	select {
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case <-g.done:
		return Info{}, ErrStopped
	case g.requests <- ch:
	}
	select {
	case <-ctx.Done():
		return Info{}, ctx.Err()
	case <-g.done:
		return Info{}, ErrStopped
	case res := <-ch:
		return res.info, res.err
	}
}

func runBuild(ctx context.Context, db *database.Database, destPath string) result {
	if err := buildArchive(ctx, db, destPath); err != nil {
		return result{err: err}
	}
	st, err := os.Stat(destPath)
	if err != nil {
		return result{err: fmt.Errorf("stat archive: %w", err)}
	}
	return result{info: Info{Path: destPath, ModTime: st.ModTime()}}
}

// buildArchive writes into a temp file next to destPath and renames it into
// place only after every entry is written.
func buildArchive(ctx context.Context, db *database.Database, destPath string) (err error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), "readings-*.tgz")
	if err != nil {
		return fmt.Errorf("tmp archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	// Locations are read to completion before any reading query opens, so a
	// single-connection SQLite pool never waits on itself.
	locs, err := db.ListLocations(ctx, true)
	if err != nil {
		return err
	}
	index, err := json.MarshalIndent(locs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal locations: %w", err)
	}
	if err := writeEntry(tw, "locations.json", time.Now(), index); err != nil {
		return err
	}
	for _, loc := range locs {
		if err := appendLocation(ctx, tw, db, loc); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, mod time.Time, body []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), ModTime: mod}); err != nil {
		return fmt.Errorf("tar header %s: %w", name, err)
	}
	if _, err := tw.Write(body); err != nil {
		return fmt.Errorf("tar write %s: %w", name, err)
	}
	return nil
}

// appendLocation spools one location's readings to a temp file so the tar
// header can carry the size without holding the readings in memory.
func appendLocation(ctx context.Context, tw *tar.Writer, db *database.Database, loc database.Location) error {
	tmp, err := os.CreateTemp("", "location-*.json")
	if err != nil {
		return fmt.Errorf("tmp location %s: %w", loc.Name, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	w := bufio.NewWriter(tmp)
	n, latest, err := writeLocationJSON(ctx, db, loc, w)
	if err != nil {
		return fmt.Errorf("write location %s: %w", loc.Name, err)
	}
	if n == 0 {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	name := fmt.Sprintf("readings/%d-%s.json", loc.ID, slug(loc.Name))
	if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: size, ModTime: latest}); err != nil {
		return fmt.Errorf("tar header %s: %w", name, err)
	}
	if _, err := io.Copy(tw, tmp); err != nil {
		return fmt.Errorf("tar copy %s: %w", name, err)
	}
	return nil
}

// writeLocationJSON streams readings as they arrive and reports how many were
// written together with the latest sample date.
func writeLocationJSON(ctx context.Context, db *database.Database, loc database.Location, w *bufio.Writer) (int, time.Time, error) {
	head, err := json.Marshal(loc)
	if err != nil {
		return 0, time.Time{}, err
	}
	fmt.Fprintf(w, "{\n  \"location\": %s,\n  \"readings\": [", head)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	readings, errCh := db.StreamReadings(ctx, database.ReadingFilter{LocationIDs: []int64{loc.ID}})

	var (
		n      int
		latest int64
	)
	for r := range readings {
		b, err := json.Marshal(r)
		if err != nil {
			cancel()
			<-errCh
			return 0, time.Time{}, err
		}
		if n > 0 {
			w.WriteByte(',')
		}
		w.WriteString("\n    ")
		w.Write(b)
		if r.Date > latest {
			latest = r.Date
		}
		n++
	}
	if err := <-errCh; err != nil {
		return 0, time.Time{}, err
	}
	if n > 0 {
		w.WriteString("\n  ")
	}
	_, err = w.WriteString("]\n}\n")
	return n, time.Unix(latest, 0).UTC(), err
}

func slug(name string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, strings.TrimSpace(name))
	s = strings.Trim(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}
