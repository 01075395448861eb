// Package importer loads units of measure, locations and waterway readings
// from CSV or XLSX files into the readings store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"waterway-dashboard/pkg/database"
	"waterway-dashboard/pkg/logger"
	"waterway-dashboard/pkg/readingstream"
)

// maxReportedRowErrors caps Result.RowErrors; the count keeps going.
const maxReportedRowErrors = 50

// flushEvery is how many parsed readings are buffered before an insert.
const flushEvery = 5000

// RowError describes one source row that could not be imported.
type RowError struct {
	File string
	Line int // 1-based, header included
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Result summarises one import job.
type Result struct {
	JobID      string     `json:"jobID"`
	Units      int        `json:"units"`     // newly created
	Chemicals  int        `json:"chemicals"` // newly created
	Locations  int        `json:"locations"` // rows placed, new or not
	Readings   int        `json:"readings"`   // rows written
	Duplicates int        `json:"duplicates"` // rows whose id already existed
	Skipped    int        `json:"skipped"`    // malformed rows
	RowErrors  []RowError `json:"-"`
}

func (r Result) String() string {
	return fmt.Sprintf("%d units, %d chemicals, %d locations, %d readings (%d duplicates, %d skipped)",
		r.Units, r.Chemicals, r.Locations, r.Readings, r.Duplicates, r.Skipped)
}

func (r *Result) rowError(file string, line int, err error) {
	r.Skipped++
	if len(r.RowErrors) < maxReportedRowErrors {
		r.RowErrors = append(r.RowErrors, RowError{File: file, Line: line, Err: err})
	}
}

// Files names the inputs of a full load. Empty paths are skipped.
type Files struct {
	Units     string
	Readings  string
	Locations string
}

// Importer writes parsed rows into the store and announces new readings.
type Importer struct {
	db   *database.Database
	bus  *readingstream.Bus
	logf func(string, ...any)

	// AfterImport runs once a job succeeded, e.g. to drop cached responses.
	AfterImport func(Result)
}

// New builds an Importer. bus and logf may be nil.
func New(db *database.Database, bus *readingstream.Bus, logf func(string, ...any)) *Importer {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Importer{db: db, bus: bus, logf: logf}
}

// Run loads units, then locations, then readings, as one job.
func (im *Importer) Run(ctx context.Context, files Files) (Result, error) {
	return im.job(ctx, func(ctx context.Context, jobID string, res *Result) error {
		steps := []struct {
			path string
			load func(context.Context, string, string, io.Reader, *Result) error
		}{
			{files.Units, im.loadUnits},
			{files.Locations, im.loadLocations},
			{files.Readings, im.loadReadings},
		}
		for _, step := range steps {
			if step.path == "" {
				continue
			}
			if err := loadFile(ctx, jobID, step.path, res, step.load); err != nil {
				return err
			}
		}
		return nil
	})
}

// ImportReadings loads a single readings file, as from an upload form.
func (im *Importer) ImportReadings(ctx context.Context, name string, r io.Reader) (Result, error) {
	return im.job(ctx, func(ctx context.Context, jobID string, res *Result) error {
		return im.loadReadings(ctx, jobID, name, r, res)
	})
}

func loadFile(ctx context.Context, jobID, path string, res *Result,
	load func(context.Context, string, string, io.Reader, *Result) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return load(ctx, jobID, path, f, res)
}

// job wraps fn with a uuid, a buffered log and the AfterImport hook.
func (im *Importer) job(ctx context.Context, fn func(context.Context, string, *Result) error) (Result, error) {
	jobID := uuid.NewString()
	res := Result{JobID: jobID}

	logger.Begin(jobID)
	if err := fn(ctx, jobID, &res); err != nil {
		logger.FlushError(jobID, err)
		return res, err
	}
	logger.Success(jobID, res.String())
	if im.AfterImport != nil {
		im.AfterImport(res)
	}
	return res, nil
}

// loadUnits reads "measure, unit" rows. Every measure becomes a chemical
// keyed by its upper-cased name; a blank unit becomes N/A. The N/A chemical
// is always ensured so unknown measures in readings have a home.
func (im *Importer) loadUnits(ctx context.Context, jobID, name string, r io.Reader, res *Result) error {
	rows, err := ReadRows(name, r)
	if err != nil {
		return err
	}
	logger.Appendf(jobID, "%s: %d rows", name, len(rows))

	units := make(map[string]int64)
	ensureUnit := func(unit string) (int64, error) {
		if unit == "" {
			unit = database.NotAvailable
		}
		if id, ok := units[unit]; ok {
			return id, nil
		}
		id, created, err := im.db.AddUnit(ctx, unit)
		if err != nil {
			return 0, err
		}
		units[unit] = id
		if created {
			res.Units++
		}
		logger.Appendf(jobID, "unit %q -> %d", unit, id)
		return id, nil
	}

	for i, row := range rows {
		if i == 0 || blankRow(row) {
			continue // header
		}
		measure := cell(row, 0)
		if measure == "" {
			res.rowError(name, i+1, errors.New("empty measure"))
			continue
		}
		unitID, err := ensureUnit(cell(row, 1))
		if err != nil {
			return err
		}
		_, created, err := im.db.AddChemical(ctx, measure, unitID)
		if err != nil {
			return err
		}
		if created {
			res.Chemicals++
		}
	}

	naUnit, err := ensureUnit(database.NotAvailable)
	if err != nil {
		return err
	}
	if _, err := im.db.EnsureChemical(ctx, database.NotAvailable, naUnit); err != nil {
		return err
	}
	return nil
}

// loadLocations reads "location, longitude, latitude, type" rows. Type is
// SENSOR or WASTE and defaults to SENSOR.
func (im *Importer) loadLocations(ctx context.Context, jobID, name string, r io.Reader, res *Result) error {
	rows, err := ReadRows(name, r)
	if err != nil {
		return err
	}
	logger.Appendf(jobID, "%s: %d rows", name, len(rows))

	types := make(map[string]int64)
	for i, row := range rows {
		if i == 0 || blankRow(row) {
			continue
		}
		line := i + 1
		display := cell(row, 0)
		if display == "" {
			res.rowError(name, line, errors.New("empty location"))
			continue
		}
		lon, errLon := parseCoordinate(cell(row, 1), 180)
		lat, errLat := parseCoordinate(cell(row, 2), 90)
		if err := errors.Join(errLon, errLat); err != nil {
			res.rowError(name, line, err)
			continue
		}

		kind := strings.ToUpper(cell(row, 3))
		if kind == "" {
			kind = database.LocationTypeSensor
		}
		typeID, ok := types[kind]
		if !ok {
			typeID, err = im.db.LocationTypeID(ctx, kind)
			if errors.Is(err, database.ErrNotFound) {
				res.rowError(name, line, fmt.Errorf("unknown location type %q", kind))
				continue
			}
			if err != nil {
				return err
			}
			types[kind] = typeID
		}

		if _, err := im.db.EnsureLocation(ctx, display, typeID, &lon, &lat); err != nil {
			return err
		}
		res.Locations++
	}
	return nil
}

type chemicalRef struct {
	id      int64
	display string
	unit    string
}

// loadReadings reads "id, value, location, date, measure" rows. Locations are
// created on first sight as SENSOR; measures without a chemical fall back to
// N/A.
func (im *Importer) loadReadings(ctx context.Context, jobID, name string, r io.Reader, res *Result) error {
	rows, err := ReadRows(name, r)
	if err != nil {
		return err
	}
	logger.Appendf(jobID, "%s: %d rows", name, len(rows))

	chemicals, err := im.chemicalIndex(ctx)
	if err != nil {
		return err
	}
	fallback, ok := chemicals[database.NotAvailable]
	if !ok {
		unitID, err := im.db.EnsureUnit(ctx, database.NotAvailable)
		if err != nil {
			return err
		}
		id, err := im.db.EnsureChemical(ctx, database.NotAvailable, unitID)
		if err != nil {
			return err
		}
		fallback = chemicalRef{id: id, display: database.NotAvailable, unit: database.NotAvailable}
		chemicals[database.NotAvailable] = fallback
	}

	sensorType, err := im.db.LocationTypeID(ctx, database.LocationTypeSensor)
	if err != nil {
		return fmt.Errorf("location types missing, run init-db first: %w", err)
	}

	type locationRef struct {
		id      int64
		display string
	}
	locations := make(map[string]locationRef)

	batch := make([]database.NewReading, 0, flushEvery)
	announce := make([]database.Reading, 0, flushEvery)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		fresh := im.freshReadings(ctx, batch, announce)
		n, err := im.db.InsertReadings(ctx, batch)
		if err != nil {
			return err
		}
		res.Readings += n
		res.Duplicates += len(batch) - n
		for _, rd := range fresh {
			im.bus.Publish(rd)
		}
		logger.Appendf(jobID, "stored %d of %d readings", n, len(batch))
		batch = batch[:0]
		announce = announce[:0]
		return nil
	}

	for i, row := range rows {
		if i == 0 || blankRow(row) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		line := i + 1

		id, err := parseID(cell(row, 0))
		if err != nil {
			res.rowError(name, line, err)
			continue
		}
		value, err := strconv.ParseFloat(cell(row, 1), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			res.rowError(name, line, fmt.Errorf("bad value %q", cell(row, 1)))
			continue
		}
		place := cell(row, 2)
		if place == "" {
			res.rowError(name, line, errors.New("empty location"))
			continue
		}
		date, err := ParseSampleDate(cell(row, 3))
		if err != nil {
			res.rowError(name, line, err)
			continue
		}

		key := strings.ToUpper(place)
		loc, ok := locations[key]
		if !ok {
			locID, err := im.db.EnsureLocation(ctx, place, sensorType, nil, nil)
			if err != nil {
				return err
			}
			loc = locationRef{id: locID, display: place}
			if existing, err := im.db.GetLocationByID(ctx, locID); err == nil {
				loc.display = existing.Display
			}
			locations[key] = loc
		}

		chem, ok := chemicals[strings.ToUpper(cell(row, 4))]
		if !ok {
			logger.Appendf(jobID, "line %d: unknown measure %q, stored as %s", line, cell(row, 4), database.NotAvailable)
			chem = fallback
		}

		batch = append(batch, database.NewReading{
			ID: id, Value: value, ChemicalID: chem.id, LocationID: loc.id, SampleDate: date.Unix(),
		})
		announce = append(announce, database.Reading{
			ID: id, Value: value, Location: loc.display, Measure: chem.display, Date: date.Unix(), Unit: chem.unit,
		})
		if len(batch) >= flushEvery {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	for _, re := range res.RowErrors {
		logger.Append(jobID, re.Error())
	}
	return nil
}

func (im *Importer) chemicalIndex(ctx context.Context) (map[string]chemicalRef, error) {
	list, err := im.db.ListChemicals(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]chemicalRef, len(list))
	for _, c := range list {
		out[c.Name] = chemicalRef{id: c.ID, display: c.Display, unit: c.Unit}
	}
	return out, nil
}

// freshReadings picks the readings of batch that are not stored yet. It only
// queries when someone is listening on the bus.
func (im *Importer) freshReadings(ctx context.Context, batch []database.NewReading, announce []database.Reading) []database.Reading {
	if im.bus == nil || im.bus.Listeners() == 0 {
		return nil
	}
	var out []database.Reading
	for i, nr := range batch {
		exists, err := im.db.ReadingIDExists(ctx, nr.ID)
		if err != nil {
			im.logf("[import] duplicate check for %d: %v", nr.ID, err)
			continue
		}
		if !exists {
			out = append(out, announce[i])
		}
	}
	return out
}

// parseID accepts integers, including the "12.0" spreadsheets like to emit.
func parseID(s string) (int64, error) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("bad id %q", s)
	}
	return int64(f), nil
}

func parseCoordinate(s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.Abs(v) > limit {
		return 0, fmt.Errorf("bad coordinate %q", s)
	}
	return v, nil
}
