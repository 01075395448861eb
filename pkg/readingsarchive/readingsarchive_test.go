package readingsarchive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"waterway-dashboard/pkg/database"
)

func seededDB(t *testing.T) *database.Database {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDatabase(database.Config{DBType: "sqlite", DBPath: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(ctx); err != nil {
		t.Fatal(err)
	}
	mgl, _ := db.EnsureUnit(ctx, "mg/l")
	lead, err := db.EnsureChemical(ctx, "Lead", mgl)
	if err != nil {
		t.Fatal(err)
	}
	sensor, _ := db.LocationTypeID(ctx, database.LocationTypeSensor)
	boonsri, _ := db.EnsureLocation(ctx, "Boonsri", sensor, nil, nil)
	if _, err := db.EnsureLocation(ctx, "Empty Creek", sensor, nil, nil); err != nil {
		t.Fatal(err)
	}
	day := time.Date(2015, 3, 3, 0, 0, 0, 0, time.UTC).Unix()
	if _, err := db.InsertReadings(ctx, []database.NewReading{
		{ID: 1, Value: 0.1, ChemicalID: lead, LocationID: boonsri, SampleDate: day},
		{ID: 2, Value: 0.2, ChemicalID: lead, LocationID: boonsri, SampleDate: day + 86400},
	}); err != nil {
		t.Fatal(err)
	}
	return db
}

func readArchive(t *testing.T, r io.Reader) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(r)
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	out := map[string][]byte{}
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(tr)
		if err != nil {
			t.Fatal(err)
		}
		out[h.Name] = b
	}
}

func TestGeneratorBuildsPerLocationFiles(t *testing.T) {
	db := seededDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dest := filepath.Join(t.TempDir(), "out", FileName(""))
	g := Start(ctx, db, dest, time.Hour, t.Logf)
	info, err := g.Fetch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Path != dest {
		t.Fatalf("path = %s", info.Path)
	}

	f, err := os.Open(info.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	files := readArchive(t, f)

	if len(files) != 2 {
		names := make([]string, 0, len(files))
		for n := range files {
			names = append(names, n)
		}
		t.Fatalf("entries = %v; locations without readings must be skipped", names)
	}
	var locs []database.Location
	if err := json.Unmarshal(files["locations.json"], &locs); err != nil || len(locs) != 2 {
		t.Fatalf("locations.json: %v %+v", err, locs)
	}

	var doc struct {
		Location database.Location  `json:"location"`
		Readings []database.Reading `json:"readings"`
	}
	name := "readings/" + strconv.FormatInt(locs[0].ID, 10) + "-boonsri.json"
	if err := json.Unmarshal(files[name], &doc); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if doc.Location.Display != "Boonsri" || len(doc.Readings) != 2 || doc.Readings[1].Value != 0.2 {
		t.Fatalf("document = %+v", doc)
	}
}

func TestHandlerServesArchive(t *testing.T) {
	db := seededDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := Start(ctx, db, filepath.Join(t.TempDir(), "a.tgz"), time.Hour, nil)

	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, RoutePath, nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/gzip" {
		t.Fatalf("status %d, type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if files := readArchive(t, rec.Body); files["locations.json"] == nil {
		t.Fatal("archive lacks locations.json")
	}

	rec = httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, RoutePath, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status %d", rec.Code)
	}
}

func TestFetchAfterStop(t *testing.T) {
	db := seededDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	g := Start(ctx, db, filepath.Join(t.TempDir(), "a.tgz"), time.Hour, nil)
	// let the first build finish so no temp file outlives the test dir
	if _, err := g.Fetch(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	<-g.done
	if _, err := g.Fetch(context.Background()); err != ErrStopped {
		t.Fatalf("Fetch after stop = %v", err)
	}
}

func TestParseFrequency(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    Frequency
		wantErr bool
	}{
		{"", FrequencyDaily, false},
		{" Hourly ", FrequencyHourly, false},
		{"weekly", FrequencyWeekly, false},
		{"monthly", "", true},
	}
	for _, tc := range cases {
		got, err := ParseFrequency(tc.in)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("ParseFrequency(%q) = %q, %v", tc.in, got, err)
		}
	}
	if FrequencyWeekly.Interval() != 7*24*time.Hour || Frequency("x").Interval() != 24*time.Hour {
		t.Error("unexpected intervals")
	}
}

func TestFileNameAndSlug(t *testing.T) {
	t.Parallel()
	if got := FileName(" Water.Example.org/ "); got != "water.example.org-readings.tgz" {
		t.Errorf("FileName = %q", got)
	}
	if got := FileName(""); got != "waterway-readings.tgz" {
		t.Errorf("FileName blank = %q", got)
	}
	for in, want := range map[string]string{"Old Dump": "old-dump", "Kohsoom": "kohsoom", "***": "unnamed"} {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}
