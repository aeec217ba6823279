// Package sampler implements elevation sampling: bilinear point sampling,
// great-circle path profiles, batched point lookups, and interpolated
// sub-tile grids, all backed by tilestore.Store.
package sampler

import (
	"context"
	"math"

	"meshrf/internal/geoproj"
	"meshrf/internal/model"
	"meshrf/internal/tilestore"
)

const tileSize = 256

// Sampler reads elevations through a tile cache at a fixed zoom level.
type Sampler struct {
	store *tilestore.Store
	zoom  int
}

// New builds a Sampler reading tiles at the given web-Mercator zoom.
func New(store *tilestore.Store, zoom int) *Sampler {
	return &Sampler{store: store, zoom: zoom}
}

// Elevation returns the bilinearly interpolated elevation at (lat, lon).
// Nodata samples (outside tile coverage, fetch/decode failure) count as 0.
func (s *Sampler) Elevation(ctx context.Context, lat, lon float64) float32 {
	x, y := geoproj.TileXY(lat, lon, s.zoom)
	tx, px := geoproj.PixelInTile(x, tileSize)
	ty, py := geoproj.PixelInTile(y, tileSize)

	tile, err := s.store.GetTile(ctx, tilestore.Key{Z: uint8(s.zoom), X: uint32(tx), Y: uint32(ty)})
	if err != nil || tile == nil {
		return 0
	}

	return bilinear(tile, px, py)
}

// bilinear interpolates within a single tile, clamping at tile edges. This
// is a deliberate simplification for samples near a tile boundary: rather
// than stitching in the neighboring tile, the edge pixel is held constant
// past the boundary, which is accurate to within one tile's resolution.
func bilinear(t *tilestore.Tile, px, py float64) float32 {
	px -= 0.5
	py -= 0.5
	if px < 0 {
		px = 0
	}
	if py < 0 {
		py = 0
	}

	x0 := int(math.Floor(px))
	y0 := int(math.Floor(py))
	x1 := x0 + 1
	y1 := y0 + 1
	if x1 >= t.Width {
		x1 = t.Width - 1
	}
	if y1 >= t.Height {
		y1 = t.Height - 1
	}

	fx := px - float64(x0)
	fy := py - float64(y0)

	v00 := float64(t.At(x0, y0))
	v10 := float64(t.At(x1, y0))
	v01 := float64(t.At(x0, y1))
	v11 := float64(t.At(x1, y1))

	top := v00*(1-fx) + v10*fx
	bottom := v01*(1-fx) + v11*fx
	return float32(top*(1-fy) + bottom*fy)
}

// Profile samples N equally spaced geodetic points along the great circle
// from a to b and returns their elevations. N must be >= 2.
func (s *Sampler) Profile(ctx context.Context, a, b model.GeoPoint, n int) model.PathProfile {
	if n < 2 {
		n = 2
	}

	totalM := haversineM(a.Lat, a.Lon, b.Lat, b.Lon)
	elevs := make([]float32, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		lat, lon := interpolateGreatCircle(a.Lat, a.Lon, b.Lat, b.Lon, t)
		elevs[i] = s.Elevation(ctx, lat, lon)
	}

	return model.PathProfile{
		Elevations: elevs,
		StepM:      totalM / float64(n-1),
		TotalM:     totalM,
	}
}

// Batch samples elevations for a set of points, grouping lookups by
// enclosing tile so each distinct tile is fetched once.
func (s *Sampler) Batch(ctx context.Context, points []model.GeoPoint) []float32 {
	byTile := make(map[tilestore.Key][]int)
	px := make([]float64, len(points))
	py := make([]float64, len(points))

	for i, p := range points {
		x, y := geoproj.TileXY(p.Lat, p.Lon, s.zoom)
		tx, fx := geoproj.PixelInTile(x, tileSize)
		ty, fy := geoproj.PixelInTile(y, tileSize)
		key := tilestore.Key{Z: uint8(s.zoom), X: uint32(tx), Y: uint32(ty)}
		byTile[key] = append(byTile[key], i)
		px[i], py[i] = fx, fy
	}

	keys := make([]tilestore.Key, 0, len(byTile))
	for k := range byTile {
		keys = append(keys, k)
	}
	tiles, _ := s.store.GetTilesBatch(ctx, keys)

	out := make([]float32, len(points))
	for key, idxs := range byTile {
		tile := tiles[key]
		for _, i := range idxs {
			if tile == nil {
				out[i] = 0
				continue
			}
			out[i] = bilinear(tile, px[i], py[i])
		}
	}
	return out
}

// Grid returns an interpolated size x size sub-grid covering the tile at
// (tileX, tileY, z), used by the terrain tile-rendering endpoint.
func (s *Sampler) Grid(ctx context.Context, tileX, tileY, z, size int) []float32 {
	out := make([]float32, size*size)
	lat0, lon0 := geoproj.TileToLatLon(float64(tileX), float64(tileY), z)
	lat1, lon1 := geoproj.TileToLatLon(float64(tileX+1), float64(tileY+1), z)

	for row := 0; row < size; row++ {
		lat := lat0 + (lat1-lat0)*(float64(row)+0.5)/float64(size)
		for col := 0; col < size; col++ {
			lon := lon0 + (lon1-lon0)*(float64(col)+0.5)/float64(size)
			out[row*size+col] = s.Elevation(ctx, lat, lon)
		}
	}
	return out
}

func haversineM(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return geoproj.EarthRadiusM * c
}

// interpolateGreatCircle returns the point at fraction t in [0,1] along
// the great circle from (lat1,lon1) to (lat2,lon2) using spherical
// linear interpolation.
func interpolateGreatCircle(lat1, lon1, lat2, lon2, t float64) (lat, lon float64) {
	p1 := lat1 * math.Pi / 180
	l1 := lon1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	l2 := lon2 * math.Pi / 180

	d := 2 * math.Asin(math.Sqrt(math.Sin((p2-p1)/2)*math.Sin((p2-p1)/2)+
		math.Cos(p1)*math.Cos(p2)*math.Sin((l2-l1)/2)*math.Sin((l2-l1)/2)))

	if d == 0 {
		return lat1, lon1
	}

	a := math.Sin((1-t)*d) / math.Sin(d)
	b := math.Sin(t*d) / math.Sin(d)

	x := a*math.Cos(p1)*math.Cos(l1) + b*math.Cos(p2)*math.Cos(l2)
	y := a*math.Cos(p1)*math.Sin(l1) + b*math.Cos(p2)*math.Sin(l2)
	z := a*math.Sin(p1) + b*math.Sin(p2)

	latOut := math.Atan2(z, math.Sqrt(x*x+y*y))
	lonOut := math.Atan2(y, x)

	return latOut * 180 / math.Pi, lonOut * 180 / math.Pi
}
