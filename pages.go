package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"

	"waterway-dashboard/pkg/viewport"
)

// =====================
// WEB pages
// =====================

type pageSet struct {
	dashboard *template.Template
	plot      *template.Template
}

var funcMap = template.FuncMap{
	"toJSON": func(v any) (template.JS, error) {
		b, err := json.Marshal(v)
		return template.JS(b), err
	},
}

func parsePages() (*pageSet, error) {
	dash, err := template.New("dashboard.html").Funcs(funcMap).ParseFS(content, "public_html/dashboard.html")
	if err != nil {
		return nil, err
	}
	plot, err := template.New("plot.html").Funcs(funcMap).ParseFS(content, "public_html/plot.html")
	if err != nil {
		return nil, err
	}
	return &pageSet{dashboard: dash, plot: plot}, nil
}

func staticFS() fs.FS {
	sub, err := fs.Sub(content, "public_html/static")
	if err != nil {
		// the embed pattern guarantees the directory
		panic(err)
	}
	return sub
}

func (d *dashboard) dashboardPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := struct {
		Version string
	}{Version: CompileVersion}
	d.render(w, d.pages.dashboard, data)
}

// plotParams is handed to plot.js as JSON.
type plotParams struct {
	Measure  string `json:"measure"`
	Location string `json:"location"`
	View     string `json:"view,omitempty"`
	Grid     string `json:"grid,omitempty"`
	Socket   string `json:"socket"`
}

func (d *dashboard) plotPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := plotParams{
		Measure:  strings.TrimSpace(q.Get("measure")),
		Location: strings.TrimSpace(q.Get("location")),
		Socket:   "/ws/plot",
	}
	// Unusable values are dropped here so the socket never refuses the page.
	if v, ok := viewport.ParseRect(q.Get("view")); ok {
		params.View = strings.ReplaceAll(v.String(), " ", ",")
	}
	if g, ok := viewport.ParseAxisLines(q.Get("grid")); ok {
		params.Grid = g.String()
	}

	title := "All readings"
	switch {
	case params.Measure != "" && params.Location != "":
		title = params.Measure + " at " + params.Location
	case params.Measure != "":
		title = params.Measure
	case params.Location != "":
		title = "Readings at " + params.Location
	}

	data := struct {
		Version string
		Title   string
		Params  plotParams
	}{CompileVersion, title, params}
	d.render(w, d.pages.plot, data)
}

// render executes into a buffer first so a template error can still become a 500.
func (d *dashboard) render(w http.ResponseWriter, tmpl *template.Template, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		log.Printf("Error executing template %s: %v", tmpl.Name(), err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

type uploadResponse struct {
	JobID      string   `json:"jobId"`
	File       string   `json:"file"`
	Readings   int      `json:"readings"`
	Duplicates int      `json:"duplicates"`
	Skipped    int      `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

// uploadHandler imports one readings file posted as multipart field "file".
func (d *dashboard) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, d.uploadMax)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "expected a multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := d.importer.ImportReadings(r.Context(), header.Filename, file)
	if err != nil {
		log.Printf("[upload] %s: %v", header.Filename, err)
		http.Error(w, "import failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	out := uploadResponse{
		JobID:      res.JobID,
		File:       header.Filename,
		Readings:   res.Readings,
		Duplicates: res.Duplicates,
		Skipped:    res.Skipped,
	}
	for _, rowErr := range res.RowErrors {
		out.Errors = append(out.Errors, rowErr.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}
