// Package compositor implements the master-grid blit, coverage
// accounting, PNG overlay rendering, and inter-site link matrix.
package compositor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/rs/zerolog"

	"meshrf/internal/geoproj"
	"meshrf/internal/model"
	"meshrf/internal/rfphysics"
	"meshrf/internal/sampler"
	"meshrf/internal/selector"
)

// LinkAnalysisError wraps a failure evaluating one inter-site link. It is
// logged and the affected link is recorded with status unknown; it never
// aborts the batch.
type LinkAnalysisError struct {
	AIdx, BIdx int
	Cause      error
}

func (e *LinkAnalysisError) Error() string {
	return fmt.Sprintf("link analysis %d<->%d: %v", e.AIdx, e.BIdx, e.Cause)
}

func (e *LinkAnalysisError) Unwrap() error { return e.Cause }

// overlayColor is the neon-cyan visible-pixel color of the rendered PNG;
// background pixels are fully transparent.
var overlayColor = color.NRGBA{R: 0, G: 242, B: 255, A: 150}

const linkProfileSamples = 50

// Site is one selected site's input parameters, aligned by index with the
// selector output it was built from.
type Site struct {
	Lat, Lon   float64
	Name       string
	HeightM    float64
	ElevationM float64
}

// LinkOptions configures the RFPhysics evaluation used to build the
// inter-site link matrix. Each site's own antenna height (Site.HeightM)
// is used for both the tx and rx leg of a pairwise link; there is no
// job-wide rx height override here, unlike the per-site viewshed sweep.
type LinkOptions struct {
	FreqMHz          float64
	KFactor          float64
	ClutterM         float64
	PathLossBudgetDB float64
}

// Output is the fully assembled result of compositing a batch job.
type Output struct {
	Results          []model.SiteResult
	Links            []model.LinkResult
	OverlayPNGBase64 string
	Bounds           model.Bounds
}

// Composite blits each selected candidate's pixel set into a master grid,
// computes per-site coverage and marginal coverage, renders the overlay
// PNG, and evaluates the pairwise link matrix between selected sites.
//
// sites and candidatePixels must be aligned with selResult.SelectedIdx:
// sites[k] / candidatePixels[k] describe the same original candidate as
// selResult.SelectedIdx[k].
func Composite(ctx context.Context, s *sampler.Sampler, affine geoproj.Affine, resM float64, selResult selector.Result, sites []Site, candidatePixels [][]int32, opts LinkOptions, log zerolog.Logger) Output {
	master := make([]bool, affine.Rows*affine.Cols)
	results := make([]model.SiteResult, len(sites))

	pixelAreaKM2 := (resM * resM) / 1e6

	for i, pixels := range candidatePixels {
		for _, idx := range pixels {
			master[idx] = true
		}
		marginal := 0
		if i < len(selResult.Marginal) {
			marginal = selResult.Marginal[i]
		}
		results[i] = model.SiteResult{
			Lat:                 sites[i].Lat,
			Lon:                 sites[i].Lon,
			Name:                sites[i].Name,
			Height:              sites[i].HeightM,
			ElevationM:          sites[i].ElevationM,
			CoverageKM2:         float64(len(pixels)) * pixelAreaKM2,
			MarginalCoverageKM2: float64(marginal) * pixelAreaKM2,
		}
		if len(pixels) > 0 {
			results[i].UniqueCoveragePct = float64(marginal) / float64(len(pixels)) * 100
		}
	}

	links, scores := buildLinkMatrix(ctx, s, sites, opts, log)
	for i := range results {
		results[i].ConnectivityScore = scores[i]
	}

	overlayPNG := renderOverlay(affine, master)

	return Output{
		Results:          results,
		Links:            links,
		OverlayPNGBase64: base64.StdEncoding.EncodeToString(overlayPNG),
		Bounds: model.Bounds{
			North: affine.North, South: affine.South,
			East: affine.East, West: affine.West,
		},
	}
}

func renderOverlay(affine geoproj.Affine, master []bool) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, affine.Cols, affine.Rows))
	for row := 0; row < affine.Rows; row++ {
		for col := 0; col < affine.Cols; col++ {
			if master[row*affine.Cols+col] {
				img.SetNRGBA(col, row, overlayColor)
			}
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img) // writes to a bytes.Buffer, whose Write never returns an error
	return buf.Bytes()
}

// buildLinkMatrix evaluates every unordered pair of selected sites and
// returns the link list along with a per-site connectivity score (count
// of links with status viable or degraded). A single link's evaluation
// failure never aborts the batch; it is recorded with status "unknown".
func buildLinkMatrix(ctx context.Context, s *sampler.Sampler, sites []Site, opts LinkOptions, log zerolog.Logger) ([]model.LinkResult, []int) {
	scores := make([]int, len(sites))
	var links []model.LinkResult

	for a := 0; a < len(sites); a++ {
		for b := a + 1; b < len(sites); b++ {
			link := evaluateLink(ctx, s, sites, a, b, opts, log)
			links = append(links, link)
			if link.Status == model.LinkViable || link.Status == model.LinkDegraded {
				scores[a]++
				scores[b]++
			}
		}
	}

	return links, scores
}

func logLinkAnalysisError(log zerolog.Logger, a, b int, cause error) {
	err := &LinkAnalysisError{AIdx: a, BIdx: b, Cause: cause}
	log.Warn().Err(err).Msg("link analysis failed, recording status unknown")
}

func evaluateLink(ctx context.Context, s *sampler.Sampler, sites []Site, a, b int, opts LinkOptions, log zerolog.Logger) model.LinkResult {
	result := model.LinkResult{
		AIdx: a, BIdx: b,
		AName: sites[a].Name, BName: sites[b].Name,
	}

	distM := rfphysics.Distance(sites[a].Lat, sites[a].Lon, sites[b].Lat, sites[b].Lon)
	result.DistanceKM = distM / 1000

	if s == nil {
		logLinkAnalysisError(log, a, b, fmt.Errorf("no elevation sampler available"))
		result.Status = model.LinkUnknown
		return result
	}

	profile := s.Profile(ctx,
		model.GeoPoint{Lat: sites[a].Lat, Lon: sites[a].Lon},
		model.GeoPoint{Lat: sites[b].Lat, Lon: sites[b].Lon},
		linkProfileSamples)

	if len(profile.Elevations) < 2 {
		logLinkAnalysisError(log, a, b, fmt.Errorf("profile returned %d elevation samples, need at least 2", len(profile.Elevations)))
		result.Status = model.LinkUnknown
		return result
	}

	geom := rfphysics.LinkGeometry{
		Elevations: profile.Elevations,
		DistanceM:  profile.TotalM,
		FreqMHz:    opts.FreqMHz,
		TxHeightM:  sites[a].HeightM,
		RxHeightM:  sites[b].HeightM,
		KFactor:    opts.KFactor,
		ClutterM:   opts.ClutterM,
	}

	eval := rfphysics.Evaluate(geom, opts.PathLossBudgetDB)
	result.PathLossDB = eval.PathLossDB
	result.MinClearanceRatio = eval.MinClearanceRatio
	result.Status = model.LinkStatus(rfphysics.Verdict(eval, opts.PathLossBudgetDB))

	return result
}
