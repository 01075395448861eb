package viewstore

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"waterway-dashboard/pkg/viewport"
)

// Handler exposes POST /views and GET /v/{code}.
type Handler struct {
	Store *Store
	// PlotPath is where /v/{code} redirects, "/plot" by default.
	PlotPath string
	Logf     func(string, ...any)
}

// Register attaches the routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/views", h.handleSave)
	mux.HandleFunc("/v/", h.handleOpen)
}

// saveRequest accepts the same text forms the plot page uses in its URL.
type saveRequest struct {
	View     string `json:"view"`
	Grid     string `json:"grid"`
	Measure  string `json:"measure"`
	Location string `json:"location"`
}

func (h *Handler) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req saveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	view, ok := viewport.ParseRect(req.View)
	if !ok {
		http.Error(w, "view must be x,y,w,h with positive size", http.StatusBadRequest)
		return
	}
	var grid viewport.AxisLines
	if strings.TrimSpace(req.Grid) != "" {
		if grid, ok = viewport.ParseAxisLines(req.Grid); !ok {
			http.Error(w, "grid must be x,y", http.StatusBadRequest)
			return
		}
	}

	code, err := h.Store.Save(r.Context(), SavedView{
		View:     view,
		Grid:     grid,
		Measure:  req.Measure,
		Location: req.Location,
	})
	if err != nil {
		h.logf("[views] save: %v", err)
		http.Error(w, "could not save view", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "url": "/v/" + code})
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v/"), "/")
	v, err := h.Store.Load(r.Context(), code)
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logf("[views] load %s: %v", code, err)
		http.Error(w, "could not load view", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.PlotURL(v), http.StatusFound)
}

// PlotURL is the plot page address that reopens v.
func (h *Handler) PlotURL(v SavedView) string {
	path := h.PlotPath
	if path == "" {
		path = "/plot"
	}
	q := url.Values{}
	q.Set("view", strings.ReplaceAll(v.View.String(), " ", ","))
	if v.Grid != (viewport.AxisLines{}) {
		q.Set("grid", v.Grid.String())
	}
	if v.Measure != "" {
		q.Set("measure", v.Measure)
	}
	if v.Location != "" {
		q.Set("location", v.Location)
	}
	return path + "?" + q.Encode()
}

func (h *Handler) logf(format string, args ...any) {
	if h.Logf != nil {
		h.Logf(format, args...)
	}
}
