package geometry

import (
	"fmt"
	"strconv"
	"strings"
)

// ToWKT renders the polygon as WKT POLYGON(...), suitable for
// ST_GeomFromText($1, 4326). Holes are included as interior rings.
func (p Polygon) ToWKT() string {
	var b strings.Builder
	b.WriteString("POLYGON(")
	writeRing(&b, p.Outer)
	for _, h := range p.Holes {
		b.WriteString(",")
		writeRing(&b, h)
	}
	b.WriteString(")")
	return b.String()
}

func writeRing(b *strings.Builder, r Ring) {
	b.WriteString("(")
	for i, pt := range r {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.FormatFloat(pt.Lng, 'f', -1, 64))
		b.WriteString(" ")
		b.WriteString(strconv.FormatFloat(pt.Lat, 'f', -1, 64))
	}
	b.WriteString(")")
}

// ParseWKT parses a WKT POLYGON string back into a Polygon. It accepts only
// the POLYGON(...) form PostGIS's ST_AsText returns for simple and
// multi-ring polygons; MULTIPOLYGON input is rejected since the reconciler
// treats multi-polygon pending rows as an automatic Fail (§4.3 step 1).
func ParseWKT(wkt string) (Polygon, error) {
	wkt = strings.TrimSpace(wkt)
	if strings.HasPrefix(strings.ToUpper(wkt), "MULTIPOLYGON") {
		return Polygon{}, fmt.Errorf("multi-polygon geometry not supported")
	}
	upper := strings.ToUpper(wkt)
	idx := strings.Index(upper, "POLYGON")
	if idx < 0 {
		return Polygon{}, fmt.Errorf("not a POLYGON WKT: %q", wkt)
	}
	body := strings.TrimSpace(wkt[idx+len("POLYGON"):])
	body = strings.TrimPrefix(body, "(")
	body = strings.TrimSuffix(body, ")")

	rings, err := splitRings(body)
	if err != nil {
		return Polygon{}, err
	}
	if len(rings) == 0 {
		return Polygon{}, fmt.Errorf("empty polygon WKT")
	}

	poly := Polygon{Outer: rings[0]}
	if len(rings) > 1 {
		poly.Holes = rings[1:]
	}
	return poly, nil
}

func splitRings(body string) ([]Ring, error) {
	var rings []Ring
	depth := 0
	start := -1
	for i, c := range body {
		switch c {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				r, err := parseRing(body[start:i])
				if err != nil {
					return nil, err
				}
				rings = append(rings, r)
			}
		}
	}
	return rings, nil
}

func parseRing(s string) (Ring, error) {
	parts := strings.Split(s, ",")
	ring := make(Ring, 0, len(parts))
	for _, part := range parts {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed coordinate pair: %q", part)
		}
		lng, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing longitude %q: %w", fields[0], err)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing latitude %q: %w", fields[1], err)
		}
		ring = append(ring, Point{Lng: lng, Lat: lat})
	}
	return ring, nil
}
