package viewport

import "strconv"

// PlottablePoint is one sample of a series. ID is unique within the series
// and gives the rendered marker a stable identity across updates.
type PlottablePoint struct {
	ID int64   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// ElementKind tells markers from connecting lines.
type ElementKind string

const (
	KindMarker  ElementKind = "marker"
	KindSegment ElementKind = "segment"
)

// SeriesElement is a marker at a point or a segment joining two adjacent
// points. Markers use X1/Y1 only.
type SeriesElement struct {
	Kind ElementKind `json:"kind"`
	Key  string      `json:"key"`
	ID   int64       `json:"id"`
	X1   float64     `json:"x1"`
	Y1   float64     `json:"y1"`
	X2   float64     `json:"x2,omitempty"`
	Y2   float64     `json:"y2,omitempty"`
}

// MarkerKey and SegmentKey build the stable keys. A segment is named after
// the later of its two points, so dropping one point renames nothing else.
func MarkerKey(id int64) string  { return "dot-" + strconv.FormatInt(id, 10) }
func SegmentKey(id int64) string { return "line-" + strconv.FormatInt(id, 10) }

// CleanSeries drops points with non-finite coordinates and any repeat of an
// ID already seen, keeping the first occurrence.
func CleanSeries(points []PlottablePoint) []PlottablePoint {
	seen := make(map[int64]struct{}, len(points))
	out := make([]PlottablePoint, 0, len(points))
	for _, p := range points {
		if !finite(p.X) || !finite(p.Y) {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Series maps points to segments and markers in plane coordinates. Segments
// come first so markers are painted on top; within each group the order
// follows the input.
func Series(points []PlottablePoint) []SeriesElement {
	clean := CleanSeries(points)
	if len(clean) == 0 {
		return nil
	}
	out := make([]SeriesElement, 0, 2*len(clean)-1)
	for i := 1; i < len(clean); i++ {
		prev, cur := clean[i-1], clean[i]
		out = append(out, SeriesElement{
			Kind: KindSegment,
			Key:  SegmentKey(cur.ID),
			ID:   cur.ID,
			X1:   prev.X,
			Y1:   prev.Y,
			X2:   cur.X,
			Y2:   cur.Y,
		})
	}
	for _, p := range clean {
		out = append(out, SeriesElement{
			Kind: KindMarker,
			Key:  MarkerKey(p.ID),
			ID:   p.ID,
			X1:   p.X,
			Y1:   p.Y,
		})
	}
	return out
}
