package database

// Reading is one row of the master view as the dashboard consumes it.
type Reading struct {
	ID       int64   `json:"id"`       // Reading identifier from the source spreadsheet
	Value    float64 `json:"value"`    // Measured value in Unit
	Location string  `json:"location"` // Location display name
	Measure  string  `json:"measure"`  // Chemical display name
	Date     int64   `json:"date"`     // Sample date (UNIX time, UTC midnight)
	Unit     string  `json:"unit"`     // Unit of measure, "N/A" when unknown
}

// NewReading is what the importer hands to InsertReadings: foreign keys are
// already resolved.
type NewReading struct {
	ID         int64
	Value      float64
	ChemicalID int64
	LocationID int64
	SampleDate int64
}

// Unit is a row of unit_of_measure.
type Unit struct {
	ID   int64  `json:"id"`
	Name string `json:"unit_name"`
}

// Chemical is a measured substance together with its unit.
type Chemical struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`    // Upper-cased lookup key
	Display string `json:"display"` // Name as written in the units file
	Unit    string `json:"unit"`
}

// LocationType classifies a location (SENSOR, WASTE).
type LocationType struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Location is a sampling point or waste site.
type Location struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Display   string   `json:"display"`
	Longitude *float64 `json:"longitude"` // nil until a locations file places it
	Latitude  *float64 `json:"latitude"`
	TypeID    int64    `json:"typeID"`
	Type      string   `json:"type"`
}

// HasCoordinates reports whether the location can be placed on a map.
func (l Location) HasCoordinates() bool {
	return l.Longitude != nil && l.Latitude != nil
}

// ReadingFilter narrows StreamReadings. Zero values mean "no restriction".
type ReadingFilter struct {
	Chemicals   []string // chemical names, matched case-insensitively
	ChemicalIDs []int64
	Locations   []string // location names, matched case-insensitively
	LocationIDs []int64
	Start       int64 // inclusive lower bound on sample date (UNIX), 0 = open
	End         int64 // inclusive upper bound on sample date (UNIX), 0 = open
	AfterID     int64 // only readings with id > AfterID
	Limit       int   // 0 = unlimited
}

// DateRange is the span of sample dates present in the store.
type DateRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}
