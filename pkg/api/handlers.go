package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"waterway-dashboard/pkg/database"
)

// =======================
// Public API entry points
// =======================

// Handler serves the JSON and GeoJSON surface of the dashboard.
type Handler struct {
	DB      *database.Database
	Cache   *ResponseCache // nil disables caching
	Limiter *RateLimiter   // nil disables per-IP sequencing
	Logf    func(string, ...any)
}

// NewHandler constructs a Handler. cache and logf may be nil.
func NewHandler(db *database.Database, cache *ResponseCache, logf func(string, ...any)) *Handler {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Handler{DB: db, Cache: cache, Logf: logf}
}

// Register attaches API routes to the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api", h.handleOverview)
	mux.Handle("/api/v1/data", h.Limiter.Limit(RequestGeneral, http.HandlerFunc(h.handleData)))
	mux.HandleFunc("/rest/locations/", h.handleLocations)
	mux.HandleFunc("/rest/location/", h.handleLocation)
	mux.HandleFunc("/rest/chemicals/search", h.handleChemicalSearch)
	mux.Handle("/rest/readings", h.Limiter.Limit(RequestGeneral, http.HandlerFunc(h.handleReadings)))
	mux.HandleFunc("/rest/sample-dates", h.handleSampleDates)
}

// InvalidateReadings drops every cached response derived from stored data.
func (h *Handler) InvalidateReadings() {
	if n := h.Cache.Purge(""); n > 0 {
		h.Logf("[api] dropped %d cached responses", n)
	}
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	overview := struct {
		Endpoints map[string]any `json:"endpoints"`
	}{
		Endpoints: map[string]any{
			"data": map[string]any{
				"method":      "GET",
				"path":        "/api/v1/data",
				"query":       []string{"from", "limit", "measure", "location"},
				"description": "Readings in normalized form, ordered by id. Continue with nextFrom.",
			},
			"locations": map[string]any{
				"method":      "GET",
				"path":        "/rest/locations/",
				"query":       []string{"nowaste"},
				"description": "GeoJSON FeatureCollection of every location. nowaste=Y keeps sensors only.",
			},
			"location": map[string]any{
				"method":      "GET",
				"path":        "/rest/location/{id} | /rest/location/name/{name}",
				"description": "One location as a GeoJSON Feature.",
			},
			"chemicalSearch": map[string]any{
				"method":      "GET",
				"path":        "/rest/chemicals/search",
				"query":       []string{"term"},
				"description": "Chemicals whose name starts with term, for pickers.",
			},
			"readings": map[string]any{
				"method":      "GET",
				"path":        "/rest/readings",
				"query":       []string{"measures", "locations", "start_date", "end_date"},
				"description": "Readings for charting. measures and locations are JSON arrays of ids or names.",
			},
			"sampleDates": map[string]any{
				"method":      "GET",
				"path":        "/rest/sample-dates",
				"description": "Earliest and latest sample date.",
			},
			"archive": map[string]any{
				"method":      "GET",
				"path":        "/api/v1/archive.tgz",
				"description": "tar.gz with locations.json and one readings document per location. Only served when the archive is enabled.",
			},
			"plot": map[string]any{
				"method":      "GET (websocket)",
				"path":        "/ws/plot",
				"query":       []string{"measure", "location", "view", "grid"},
				"description": "Interactive viewport session rendering SVG frames.",
			},
		},
	}
	h.respondJSON(w, overview)
}

// normalizedPayload is the entity map shape the single-page client consumes.
type normalizedPayload struct {
	Entities struct {
		Reading map[string]database.Reading `json:"reading"`
	} `json:"entities"`
	Result   []int64 `json:"result"`
	NextFrom int64   `json:"nextFrom,omitempty"`
}

// handleData pages through readings with an id cursor.
func (h *Handler) handleData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	from := parseInt64Default(q.Get("from"), 0)
	limit := clampInt(parseIntDefault(q.Get("limit"), 1000), 1, 5000)

	filter := database.ReadingFilter{Limit: limit}
	if from > 0 {
		filter.AfterID = from - 1
	}
	if m := strings.TrimSpace(q.Get("measure")); m != "" {
		filter.Chemicals = []string{m}
	}
	if l := strings.TrimSpace(q.Get("location")); l != "" {
		filter.Locations = []string{l}
	}

	readings, err := h.DB.CollectReadings(ctx, filter)
	if err != nil {
		h.fail(w, "readings", err)
		return
	}

	var payload normalizedPayload
	payload.Entities.Reading = make(map[string]database.Reading, len(readings))
	payload.Result = make([]int64, 0, len(readings))
	for _, rd := range readings {
		payload.Entities.Reading[strconv.FormatInt(rd.ID, 10)] = rd
		payload.Result = append(payload.Result, rd.ID)
	}
	if len(readings) == limit {
		payload.NextFrom = readings[len(readings)-1].ID + 1
	}
	h.respondJSON(w, payload)
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	if strings.TrimPrefix(r.URL.Path, "/rest/locations/") != "" {
		http.NotFound(w, r)
		return
	}
	includeWaste := r.URL.Query().Get("nowaste") != "Y"
	key := "locations:all"
	if !includeWaste {
		key = "locations:sensors"
	}
	h.serveCached(w, r, key, func(ctx context.Context) (any, error) {
		locs, err := h.DB.ListLocations(ctx, includeWaste)
		if err != nil {
			return nil, err
		}
		return locationCollection(locs), nil
	})
}

// handleLocation serves /rest/location/{id} and /rest/location/name/{name}.
func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rest/location/")

	if name, ok := strings.CutPrefix(rest, "name/"); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			h.notFound(w)
			return
		}
		h.serveCached(w, r, "location:name:"+strings.ToUpper(name), func(ctx context.Context) (any, error) {
			loc, err := h.DB.GetLocationByName(ctx, name)
			if err != nil {
				return nil, err
			}
			return locationFeature(loc), nil
		})
		return
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		h.notFound(w)
		return
	}
	h.serveCached(w, r, "location:id:"+rest, func(ctx context.Context) (any, error) {
		loc, err := h.DB.GetLocationByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return locationFeature(loc), nil
	})
}

type searchResult struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

func (h *Handler) handleChemicalSearch(w http.ResponseWriter, r *http.Request) {
	term := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("term")))
	h.serveCached(w, r, "chemicals:"+term, func(ctx context.Context) (any, error) {
		chems, err := h.DB.SearchChemicals(ctx, term)
		if err != nil {
			return nil, err
		}
		results := make([]searchResult, 0, len(chems))
		for _, c := range chems {
			results = append(results, searchResult{ID: c.ID, Text: fmt.Sprintf("%s (%s)", c.Display, c.Unit)})
		}
		return map[string]any{"results": results}, nil
	})
}

// chartReading is the row shape the dashboard chart reads.
type chartReading struct {
	ID         int64        `json:"id"`
	Value      float64      `json:"value"`
	Unit       string       `json:"unit"`
	SampleDate string       `json:"sample_date"`
	Chemical   displayField `json:"chemical"`
	Location   displayField `json:"location"`
}

type displayField struct {
	Display string `json:"display"`
}

func (h *Handler) handleReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := readingFilterFromQuery(q.Get("measures"), q.Get("locations"), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := h.DB.CollectReadings(r.Context(), filter)
	if err != nil {
		h.fail(w, "readings", err)
		return
	}
	results := make([]chartReading, 0, len(readings))
	for _, rd := range readings {
		results = append(results, chartReading{
			ID:         rd.ID,
			Value:      rd.Value,
			Unit:       rd.Unit,
			SampleDate: time.Unix(rd.Date, 0).UTC().Format("2006-01-02"),
			Chemical:   displayField{Display: rd.Measure},
			Location:   displayField{Display: rd.Location},
		})
	}
	h.respondJSON(w, map[string]any{"results": results})
}

func (h *Handler) handleSampleDates(w http.ResponseWriter, r *http.Request) {
	rng, err := h.DB.SampleDateRange(r.Context())
	if errors.Is(err, database.ErrNotFound) {
		h.respondJSON(w, map[string]any{"min": nil, "max": nil})
		return
	}
	if err != nil {
		h.fail(w, "sample dates", err)
		return
	}
	h.respondJSON(w, map[string]string{
		"min": time.Unix(rng.Min, 0).UTC().Format("2006-01-02"),
		"max": time.Unix(rng.Max, 0).UTC().Format("2006-01-02"),
	})
}

// readingFilterFromQuery turns the chart form parameters into a filter.
func readingFilterFromQuery(measures, locations, start, end string) (database.ReadingFilter, error) {
	var f database.ReadingFilter
	var err error
	if f.ChemicalIDs, f.Chemicals, err = parseSelection(measures); err != nil {
		return f, fmt.Errorf("measures: %w", err)
	}
	if f.LocationIDs, f.Locations, err = parseSelection(locations); err != nil {
		return f, fmt.Errorf("locations: %w", err)
	}
	if start != "" {
		t, err := time.Parse("2006-01-02", start)
		if err != nil {
			return f, fmt.Errorf("start_date: want YYYY-MM-DD")
		}
		f.Start = t.Unix()
	}
	if end != "" {
		t, err := time.Parse("2006-01-02", end)
		if err != nil {
			return f, fmt.Errorf("end_date: want YYYY-MM-DD")
		}
		f.End = t.Unix()
	}
	return f, nil
}

// parseSelection reads a JSON array whose items are ids (numbers or numeric
// strings) or names. A bare comma-separated list is accepted as well.
func parseSelection(raw string) (ids []int64, names []string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, nil
	}
	var items []any
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, nil, err
		}
	} else {
		for _, part := range strings.Split(raw, ",") {
			items = append(items, part)
		}
	}
	for _, item := range items {
		switch v := item.(type) {
		case float64:
			ids = append(ids, int64(v))
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if id, err := strconv.ParseInt(v, 10, 64); err == nil {
				ids = append(ids, id)
			} else {
				names = append(names, v)
			}
		default:
			return nil, nil, fmt.Errorf("unsupported item %v", item)
		}
	}
	return ids, names, nil
}

// =====================
// Utility helpers
// =====================

// serveCached encodes build's result through the response cache.
// ErrNotFound from build becomes the 404 body the map widget expects.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, build func(context.Context) (any, error)) {
	loader := func(ctx context.Context) ([]byte, error) {
		payload, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(payload, "", "  ")
	}

	data, err := h.Cache.Get(r.Context(), key, loader)
	if errors.Is(err, errCacheDisabled) || errors.Is(err, errCacheStopped) {
		data, err = loader(r.Context())
	}
	if errors.Is(err, database.ErrNotFound) {
		h.notFound(w)
		return
	}
	if err != nil {
		h.fail(w, key, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

func (h *Handler) notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": "Not found."})
}

func (h *Handler) fail(w http.ResponseWriter, what string, err error) {
	h.Logf("[api] %s: %v", what, err)
	http.Error(w, what+" error", http.StatusInternalServerError)
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt64Default(v string, def int64) int64 {
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
