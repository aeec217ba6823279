// Package rfphysics implements the RF link-budget propagation math:
// haversine distance, free-space path loss, first-Fresnel radius,
// earth-curvature correction, and Bullington knife-edge diffraction, plus
// the composite per-link verdict.
package rfphysics

import (
	"math"

	"meshrf/internal/geoproj"
)

// SpeedOfLightMHzM is c expressed so that wavelength = SpeedOfLightMHzM / freqMHz
// yields meters.
const SpeedOfLightMHzM = 299.792458

// Distance returns the great-circle (haversine) distance in meters between
// two points on the WGS-84 mean-radius sphere. Symmetric: Distance(a,b) ==
// Distance(b,a); Distance(a,a) == 0.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dp := (lat2 - lat1) * math.Pi / 180
	dl := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dp/2)*math.Sin(dp/2) + math.Cos(p1)*math.Cos(p2)*math.Sin(dl/2)*math.Sin(dl/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return geoproj.EarthRadiusM * c
}

// FreeSpaceLossDB is the free-space path loss in dB for distance d (meters)
// at frequency freqMHz.
func FreeSpaceLossDB(dM, freqMHz float64) float64 {
	if dM <= 0 {
		dM = 1 // avoid log(0); sites at zero distance have no meaningful loss
	}
	return 20*math.Log10(dM) + 20*math.Log10(freqMHz) - 27.55
}

// WavelengthM returns the wavelength in meters for freqMHz.
func WavelengthM(freqMHz float64) float64 {
	return SpeedOfLightMHzM / freqMHz
}

// FresnelRadiusM returns the first-Fresnel-zone radius at fractional
// position t in [0,1] along a path of total length dM at wavelength
// lambdaM.
func FresnelRadiusM(dM, t, lambdaM float64) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return math.Sqrt(lambdaM * dM * t * (1 - t))
}

// CurvatureSagM returns the earth-curvature sag of the line of sight at a
// point splitting a path into legs d1 and d2 (meters), for k-factor k.
func CurvatureSagM(d1, d2, k float64) float64 {
	return d1 * d2 / (2 * k * geoproj.EarthRadiusM)
}

// DiffractionLossDB is the standard knife-edge diffraction loss
// approximation as a function of the Fresnel-Kirchhoff diffraction
// parameter v.
func DiffractionLossDB(v float64) float64 {
	if v <= -0.78 {
		return 0
	}
	return 6.9 + 20*math.Log10(math.Sqrt((v-0.1)*(v-0.1)+1)+v-0.1)
}

// LinkGeometry bundles the inputs needed to evaluate a point-to-point
// path against a sampled elevation profile.
type LinkGeometry struct {
	Elevations   []float32 // terrain elevation at each sample, meters
	DistanceM    float64   // total path length
	FreqMHz      float64
	TxHeightM    float64 // tx antenna height above ground
	RxHeightM    float64 // rx antenna height above ground
	KFactor      float64
	ClutterM     float64 // added to every terrain sample feeding diffraction height
}

// obstruction finds the single equivalent knife edge (Bullington
// construction): the sample along the profile with the largest height
// above the straight line-of-sight between the tx and rx antenna tips,
// after applying earth-curvature sag and clutter.
type obstruction struct {
	heightAboveLOS float64 // h, meters; may be negative (clear)
	d1, d2         float64 // legs from tx and rx to the obstacle, meters
	fresnelRadius  float64
}

func worstObstruction(g LinkGeometry) obstruction {
	n := len(g.Elevations)
	lambda := WavelengthM(g.FreqMHz)

	txTip := float64(g.Elevations[0]) + g.TxHeightM
	rxTip := float64(g.Elevations[n-1]) + g.RxHeightM

	var worst obstruction
	worst.heightAboveLOS = math.Inf(-1)

	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		d1 := g.DistanceM * t
		d2 := g.DistanceM - d1

		losAlt := txTip + (rxTip-txTip)*t
		sag := CurvatureSagM(d1, d2, g.KFactor)
		terrain := float64(g.Elevations[i]) + g.ClutterM

		h := terrain - (losAlt - sag)
		f1 := FresnelRadiusM(g.DistanceM, t, lambda)

		if h > worst.heightAboveLOS {
			worst = obstruction{heightAboveLOS: h, d1: d1, d2: d2, fresnelRadius: f1}
		}
	}

	return worst
}

// LinkEvaluation is the full result of evaluating a link's geometry
// against terrain: the diffraction loss, total path loss, and the
// clearance ratio at the worst obstruction.
type LinkEvaluation struct {
	DiffractionLossDB float64
	PathLossDB        float64
	MinClearanceRatio float64
}

// Evaluate computes the path loss and clearance ratio for a link given its
// sampled elevation profile.
func Evaluate(g LinkGeometry, pathLossBudgetDB float64) LinkEvaluation {
	obs := worstObstruction(g)

	var v float64
	if obs.d1 > 0 && obs.d2 > 0 {
		lambda := WavelengthM(g.FreqMHz)
		v = obs.heightAboveLOS * math.Sqrt(2*(obs.d1+obs.d2)/(lambda*obs.d1*obs.d2))
	} else {
		v = -1 // endpoints never obstruct themselves
	}

	diffraction := DiffractionLossDB(v)
	if diffraction < 0 {
		diffraction = 0
	}

	fsl := FreeSpaceLossDB(g.DistanceM, g.FreqMHz)
	pathLoss := fsl + diffraction

	clearanceRatio := math.Inf(1)
	if obs.fresnelRadius > 0 {
		clearanceRatio = obs.heightAboveLOS / obs.fresnelRadius
	} else if obs.heightAboveLOS <= 0 {
		clearanceRatio = 0
	}
	if clearanceRatio < 0 {
		clearanceRatio = 0
	}

	_ = pathLossBudgetDB
	return LinkEvaluation{
		DiffractionLossDB: diffraction,
		PathLossDB:        pathLoss,
		MinClearanceRatio: clearanceRatio,
	}
}

// Verdict classifies a link evaluation into a viability status:
// viable <=0.4, degraded <=1.0, else blocked; a path loss over budget
// also forces blocked.
func Verdict(eval LinkEvaluation, pathLossBudgetDB float64) string {
	if eval.PathLossDB > pathLossBudgetDB {
		return "blocked"
	}
	switch {
	case eval.MinClearanceRatio <= 0.4:
		return "viable"
	case eval.MinClearanceRatio <= 1.0:
		return "degraded"
	default:
		return "blocked"
	}
}
