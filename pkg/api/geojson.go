package api

import (
	"waterway-dashboard/pkg/database"
)

// GeoJSON shapes consumed by the dashboard map widget. Besides the standard
// members each feature carries icon and style hints for the marker layer.

type featureCollection struct {
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	CRS      crs       `json:"crs"`
	Features []feature `json:"features"`
}

type crs struct {
	Type       string            `json:"type"`
	Properties map[string]string `json:"properties"`
}

type feature struct {
	Type       string            `json:"type"`
	Properties featureProperties `json:"properties"`
	Geometry   *pointGeometry    `json:"geometry"`
	Icon       featureIcon       `json:"icon"`
	Style      featureStyle      `json:"style"`
}

type featureProperties struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Display string      `json:"display"`
	Type    featureType `json:"type"`
}

type featureType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type pointGeometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"` // lon, lat
}

type featureIcon struct {
	IconURL  string      `json:"iconUrl"`
	IconSize [2]int      `json:"iconSize"`
	LatLng   *[2]float64 `json:"latlng,omitempty"`
}

type featureStyle struct {
	Color string `json:"color"`
}

// IconBase is where the marker icons are served from.
const IconBase = "/static/icons/"

func locationFeature(loc database.Location) feature {
	f := feature{
		Type: "Feature",
		Properties: featureProperties{
			ID:      loc.ID,
			Name:    loc.Name,
			Display: loc.Display,
			Type:    featureType{ID: loc.TypeID, Name: loc.Type},
		},
		Icon:  featureIcon{IconURL: IconBase + "sensor.svg", IconSize: [2]int{30, 30}},
		Style: featureStyle{Color: "green"},
	}
	if loc.Type == database.LocationTypeWaste {
		f.Icon.IconURL = IconBase + "waste.svg"
	}
	if loc.Type == database.LocationTypeSensor {
		f.Style.Color = "red"
	}
	if loc.HasCoordinates() {
		lon, lat := *loc.Longitude, *loc.Latitude
		f.Geometry = &pointGeometry{Type: "Point", Coordinates: [2]float64{lon, lat}}
		f.Icon.LatLng = &[2]float64{lat, lon}
	}
	return f
}

func locationCollection(locs []database.Location) featureCollection {
	fc := featureCollection{
		Type: "FeatureCollection",
		Name: "sensor-locations",
		CRS: crs{
			Type:       "name",
			Properties: map[string]string{"name": "urn:ogc:def:crs:OGC:1.3:CRS84"},
		},
		Features: make([]feature, 0, len(locs)),
	}
	for _, loc := range locs {
		fc.Features = append(fc.Features, locationFeature(loc))
	}
	return fc
}
