package plotsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"waterway-dashboard/pkg/database"
	"waterway-dashboard/pkg/readingstream"
	"waterway-dashboard/pkg/viewport"
)

// ReadingSource loads the initial series of a session.
type ReadingSource interface {
	CollectReadings(ctx context.Context, f database.ReadingFilter) ([]database.Reading, error)
}

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 4 << 10
	// seriesLimit bounds what one session draws; readings beyond it are not loaded.
	seriesLimit = 20000
)

// Server upgrades /ws/plot requests and runs one session per connection.
type Server struct {
	Source ReadingSource
	Bus    *readingstream.Bus // optional live feed
	Config viewport.Config
	Logf   func(string, ...any)

	upgrader websocket.Upgrader
}

// NewServer builds a Server. bus and logf may be nil.
func NewServer(src ReadingSource, bus *readingstream.Bus, cfg viewport.Config, logf func(string, ...any)) *Server {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Server{
		Source: src,
		Bus:    bus,
		Config: cfg,
		Logf:   logf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 << 10,
		},
	}
}

// ServeHTTP reads measure, location, view and grid from the query string.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	measure := strings.TrimSpace(q.Get("measure"))
	location := strings.TrimSpace(q.Get("location"))

	cfg := s.Config
	if raw := q.Get("view"); raw != "" {
		view, ok := viewport.ParseRect(raw)
		if !ok {
			http.Error(w, "view must be x,y,w,h with positive size", http.StatusBadRequest)
			return
		}
		cfg.Initial = view
	}
	if raw := q.Get("grid"); raw != "" {
		grid, ok := viewport.ParseAxisLines(raw)
		if !ok {
			http.Error(w, "grid must be x,y", http.StatusBadRequest)
			return
		}
		cfg.AxisLines = grid
	}

	filter := database.ReadingFilter{Limit: seriesLimit}
	if measure != "" {
		filter.Chemicals = []string{measure}
	}
	if location != "" {
		filter.Locations = []string{location}
	}
	readings, err := s.Source.CollectReadings(r.Context(), filter)
	if err != nil {
		s.Logf("[plot] load series: %v", err)
		http.Error(w, "could not load readings", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		s.Logf("[plot] upgrade: %v", err)
		return
	}
	defer conn.Close()

	sess := NewSession(uuid.NewString(), cfg, readings)
	s.Logf("[plot] session %s opened: %d points, measure=%q location=%q", sess.ID, len(sess.Points()), measure, location)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var live <-chan database.Reading
	if s.Bus != nil {
		live = s.Bus.Subscribe(ctx, readingstream.NewTopic(measure, location), 64)
	}

	err = s.run(ctx, conn, sess, live)
	switch {
	case err == nil, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.Logf("[plot] session %s closed", sess.ID)
	default:
		s.Logf("[plot] session %s ended: %v", sess.ID, err)
	}
}

var errMalformed = errors.New("malformed message")

// run owns sess until the client goes away. A reader goroutine decodes
// messages into events; everything else happens here, one event at a time.
func (s *Server) run(ctx context.Context, conn *websocket.Conn, sess *Session, live <-chan database.Reading) error {
	events := make(chan Event)
	readErr := make(chan error, 1)

	conn.SetReadLimit(maxMessageSize)
	go func() {
		defer close(events)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			var ev Event
			if err := json.Unmarshal(data, &ev); err != nil {
				readErr <- fmt.Errorf("%w: %v", errMalformed, err)
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := s.send(conn, sess); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				err := <-readErr
				if errors.Is(err, errMalformed) {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "malformed message"),
						time.Now().Add(time.Second))
				}
				return err
			}
			if sess.Apply(ev) {
				if err := s.send(conn, sess); err != nil {
					return err
				}
			}

		case r, ok := <-live:
			if !ok {
				live = nil
				continue
			}
			if sess.Append(r) {
				if err := s.send(conn, sess); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Server) send(conn *websocket.Conn, sess *Session) error {
	frame, err := sess.Frame()
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
