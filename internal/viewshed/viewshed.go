// Package viewshed implements the radial R2 Fresnel-adjusted horizon
// sweep. Each azimuth is an independent ray and rays are evaluated
// concurrently, bounded by GOMAXPROCS, using errgroup. A ray never fails:
// elevation sampling failures read as 0 (see sampler.Elevation), so
// nothing is logged per ray.
package viewshed

import (
	"context"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"meshrf/internal/geoproj"
	"meshrf/internal/metrics"
	"meshrf/internal/model"
	"meshrf/internal/rfphysics"
	"meshrf/internal/sampler"
)

// Params configures a single viewshed computation.
type Params struct {
	TxLat, TxLon float64
	TxHeightM    float64
	RadiusM      float64
	RxHeightM    float64
	FreqMHz      float64
	KFactor      float64
	ResM         float64
	ClutterM     float64
}

const fresnelClearanceFrac = 0.6

// Compute runs the radial sweep around the transmitter and returns the
// resulting visibility raster.
func Compute(ctx context.Context, s *sampler.Sampler, p Params) (*model.Raster, error) {
	half := int(math.Ceil(p.RadiusM / p.ResM))
	side := 2*half + 1

	lambda := rfphysics.WavelengthM(p.FreqMHz)

	rowLats := make([]float64, side)
	colLons := make([]float64, side)
	metersPerDegLon := geoproj.MetersPerDegLon(p.TxLat)
	for i := 0; i < side; i++ {
		offsetM := float64(i-half) * p.ResM
		rowLats[i] = p.TxLat - geoproj.MetersToDegLat(offsetM) // row 0 = north
		colLons[i] = p.TxLon + offsetM/metersPerDegLon
	}

	visible := make([]bool, side*side)
	visible[half*side+half] = true // transmitter cell always visible

	txGroundZ := s.Elevation(ctx, p.TxLat, p.TxLon)
	txTipAlt := float64(txGroundZ) + p.TxHeightM

	numAzimuths := int(math.Ceil(2 * math.Pi * p.RadiusM / p.ResM))
	if numAzimuths < 8 {
		numAzimuths = 8
	}
	stepM := p.ResM / 2

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	var mu sync.Mutex
	for a := 0; a < numAzimuths; a++ {
		theta := 2 * math.Pi * float64(a) / float64(numAzimuths)
		g.Go(func() error {
			sweepRay(gctx, s, p, theta, stepM, txTipAlt, lambda, half, side, rowLats, colLons, visible, &mu)
			metrics.ViewshedRaysTotal.Inc()
			return nil
		})
	}
	_ = g.Wait()

	return &model.Raster{
		Visible:   visible,
		Rows:      side,
		Cols:      side,
		RowLats:   rowLats,
		ColLons:   colLons,
		ResM:      p.ResM,
		CenterLat: p.TxLat,
		CenterLon: p.TxLon,
	}, nil
}

// sweepRay walks outward from the transmitter along azimuth theta,
// marking visible cells into the shared raster. Adjacent rays can reach
// the same output cell, so writes to the visible slice are serialized by
// mu.
func sweepRay(ctx context.Context, s *sampler.Sampler, p Params, theta, stepM, txTipAlt, lambda float64, half, side int, rowLats, colLons []float64, visible []bool, mu *sync.Mutex) {
	sinT, cosT := math.Sin(theta), math.Cos(theta)
	metersPerDegLon := geoproj.MetersPerDegLon(p.TxLat)

	alphaMax := math.Inf(-1)
	dMax := 0.0 // range of the sample that set alphaMax

	for r := stepM; r <= p.RadiusM; r += stepM {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lat := p.TxLat + geoproj.MetersToDegLat(r*cosT)
		lon := p.TxLon + (r*sinT)/metersPerDegLon

		z := float64(s.Elevation(ctx, lat, lon)) + p.ClutterM
		sag := r * r / (2 * p.KFactor * geoproj.EarthRadiusM)

		rxAlt := z + p.RxHeightM - sag
		alpha := math.Atan2(rxAlt-txTipAlt, r)
		groundAlpha := math.Atan2(z-sag-txTipAlt, r)

		isVisible := alpha >= alphaMax
		if isVisible && !math.IsInf(alphaMax, -1) {
			// Clearance of the worst obstruction below the tx->rx line of
			// sight, measured at the obstruction against the first
			// Fresnel radius of the path to this receiver.
			clearanceM := dMax * (math.Tan(alpha) - math.Tan(alphaMax))
			f1 := rfphysics.FresnelRadiusM(r, dMax/r, lambda)
			if clearanceM < fresnelClearanceFrac*f1 {
				isVisible = false
			}
		}

		if isVisible {
			mu.Lock()
			markCell(lat, lon, p.TxLat, p.TxLon, half, side, p.ResM, visible)
			mu.Unlock()
		}

		if groundAlpha > alphaMax {
			alphaMax = groundAlpha
			dMax = r
		}
	}
}

// markCell maps a geographic point, given as an offset from the
// transmitter, to the nearest output cell and marks it visible. Points
// falling outside the grid are ignored.
func markCell(lat, lon, txLat, txLon float64, half, side int, resM float64, visible []bool) {
	dNorth := geoproj.DegLatToMetersM(lat - txLat)

	metersPerDegLon := geoproj.MetersPerDegLon(txLat)
	dEast := (lon - txLon) * metersPerDegLon

	row := half - int(math.Round(dNorth/resM))
	col := half + int(math.Round(dEast/resM))

	if row < 0 || row >= side || col < 0 || col >= side {
		return
	}
	visible[row*side+col] = true
}
