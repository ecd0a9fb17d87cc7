package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/paulmach/go.geojson"
	"github.com/sourcegraph/conc/pool"

	"github.com/landregistry/inspire-reconciler/internal/errors"
	"github.com/landregistry/inspire-reconciler/internal/geometry"
	"github.com/landregistry/inspire-reconciler/internal/store"
)

const defaultStreamWorkers = 8

// StreamResult summarises one council's streamed insert.
type StreamResult struct {
	FeatureCount int
}

// StreamFeatures decodes a GeoJSON FeatureCollection feature-by-feature
// rather than loading the whole document into memory (§4.2 step 5), batches
// decoded features up to chunkSize, converts each batch's geometry
// concurrently across workers, and flushes the batch in one round trip via
// UpsertPendingBoundaries.
func StreamFeatures(ctx context.Context, r io.Reader, st *store.Store, council string, chunkSize, precision, workers int) (StreamResult, error) {
	if chunkSize <= 0 {
		chunkSize = 10000
	}
	if workers <= 0 {
		workers = defaultStreamWorkers
	}

	dec := json.NewDecoder(r)
	if err := skipToFeaturesArray(dec); err != nil {
		return StreamResult{}, err
	}

	var result StreamResult
	batch := make([]json.RawMessage, 0, chunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		rows, err := convertBatch(batch, council, precision, workers)
		if err != nil {
			return err
		}
		if err := st.UpsertPendingBoundaries(ctx, rows); err != nil {
			return err
		}
		result.FeatureCount += len(rows)
		batch = batch[:0]
		return nil
	}

	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return result, errors.DataRowError(err, "decoding GeoJSON feature")
		}
		batch = append(batch, raw)
		if len(batch) >= chunkSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

// skipToFeaturesArray advances dec's token stream past
// `{"type":"FeatureCollection", ..., "features": [` so the caller can decode
// each array element independently.
func skipToFeaturesArray(dec *json.Decoder) error {
	if _, err := dec.Token(); err != nil { // opening '{'
		return errors.DataRowError(err, "reading GeoJSON document start")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.DataRowError(err, "reading GeoJSON top-level key")
		}
		key, _ := keyTok.(string)
		if key == "features" {
			if _, err := dec.Token(); err != nil { // opening '['
				return errors.DataRowError(err, "reading features array start")
			}
			return nil
		}
		// skip this key's value wholesale
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return errors.DataRowError(err, "skipping GeoJSON top-level field")
		}
	}
	return errors.New(errors.ErrorTypeDataRow, errors.SeverityHigh, "GeoJSON document has no features array")
}

// convertBatch converts a batch of raw Feature JSON into PendingBoundary
// rows, fanning the CPU-bound geometry conversion out across up to workers
// goroutines (bounded concurrency, per §5's back-pressured iteration).
func convertBatch(batch []json.RawMessage, council string, precision, workers int) ([]store.PendingBoundaryInsert, error) {
	rows := make([]store.PendingBoundaryInsert, len(batch))
	ok := make([]bool, len(batch))

	p := pool.New().WithMaxGoroutines(workers).WithErrors()
	for i, raw := range batch {
		i, raw := i, raw
		p.Go(func() error {
			row, present, err := convertFeature(raw, council, precision)
			if err != nil {
				return err
			}
			if present {
				rows[i] = row
				ok[i] = true
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, errors.TaskError(err, "converting GeoJSON feature batch")
	}

	out := make([]store.PendingBoundaryInsert, 0, len(rows))
	for i, present := range ok {
		if present {
			out = append(out, rows[i])
		}
	}
	return out, nil
}

// convertFeature turns one GeoJSON Feature into a PendingBoundary row: the
// feature's INSPIREID becomes poly_id, and every vertex is reversed to
// (longitude, latitude) and rounded to the configured precision (§4.2 step
// 5) — the reprojection tool emits (latitude, longitude) order, so this
// step corrects axis order before storage.
func convertFeature(raw json.RawMessage, council string, precision int) (store.PendingBoundaryInsert, bool, error) {
	var feature geojson.Feature
	if err := json.Unmarshal(raw, &feature); err != nil {
		return store.PendingBoundaryInsert{}, false, errors.DataRowError(err, "unmarshalling GeoJSON feature")
	}
	if feature.Geometry == nil || feature.Geometry.Type != geojson.GeometryPolygon {
		return store.PendingBoundaryInsert{}, false, nil
	}

	polyID, err := featurePolyID(&feature)
	if err != nil || polyID == "" {
		return store.PendingBoundaryInsert{}, false, nil
	}

	poly := geometry.Polygon{Outer: convertRing(feature.Geometry.Polygon[0], precision)}
	for _, ring := range feature.Geometry.Polygon[1:] {
		poly.Holes = append(poly.Holes, convertRing(ring, precision))
	}

	return store.PendingBoundaryInsert{
		PolyID:   polyID,
		Council:  council,
		Geometry: poly,
	}, true, nil
}

func featurePolyID(f *geojson.Feature) (string, error) {
	if v, err := f.PropertyString("INSPIREID"); err == nil && v != "" {
		return v, nil
	}
	if v, err := f.PropertyInt("INSPIREID"); err == nil {
		return fmt.Sprintf("%d", v), nil
	}
	if id := fmt.Sprintf("%v", f.ID); id != "" && id != "<nil>" {
		return id, nil
	}
	return "", nil
}

func convertRing(coords [][]float64, precision int) geometry.Ring {
	ring := make(geometry.Ring, len(coords))
	scale := math.Pow(10, float64(precision))
	for i, c := range coords {
		if len(c) < 2 {
			continue
		}
		lat, lng := c[0], c[1] // reverse: source order is (lat, lng)
		ring[i] = geometry.Point{
			Lng: math.Round(lng*scale) / scale,
			Lat: math.Round(lat*scale) / scale,
		}
	}
	return ring
}
