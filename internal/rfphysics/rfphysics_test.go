package rfphysics

import (
	"math"
	"testing"
)

func TestDistanceSymmetricAndZero(t *testing.T) {
	cases := []struct {
		lat1, lon1, lat2, lon2 float64
	}{
		{37.7749, -122.4194, 34.0522, -118.2437},
		{0, 0, 0, 90},
		{51.5074, -0.1278, 51.5074, -0.1278},
	}

	for _, c := range cases {
		d1 := Distance(c.lat1, c.lon1, c.lat2, c.lon2)
		d2 := Distance(c.lat2, c.lon2, c.lat1, c.lon1)
		if math.Abs(d1-d2) > 1e-6 {
			t.Errorf("Distance not symmetric: %v vs %v", d1, d2)
		}
	}

	if d := Distance(10, 20, 10, 20); d != 0 {
		t.Errorf("Distance(a,a) = %v, want 0", d)
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// San Francisco to Los Angeles, roughly 560km great circle.
	d := Distance(37.7749, -122.4194, 34.0522, -118.2437)
	km := d / 1000
	if km < 550 || km > 570 {
		t.Errorf("Distance(SF, LA) = %.1f km, want ~559km", km)
	}
}

func TestFreeSpaceLossIncreasesWithDistanceAndFreq(t *testing.T) {
	near := FreeSpaceLossDB(1000, 915)
	far := FreeSpaceLossDB(10000, 915)
	if far <= near {
		t.Errorf("expected loss to increase with distance: near=%v far=%v", near, far)
	}

	lowFreq := FreeSpaceLossDB(1000, 400)
	highFreq := FreeSpaceLossDB(1000, 2400)
	if highFreq <= lowFreq {
		t.Errorf("expected loss to increase with frequency: low=%v high=%v", lowFreq, highFreq)
	}
}

func TestFresnelRadiusZeroAtEndpoints(t *testing.T) {
	lambda := WavelengthM(915)
	if r := FresnelRadiusM(10000, 0, lambda); r != 0 {
		t.Errorf("FresnelRadiusM at t=0 = %v, want 0", r)
	}
	if r := FresnelRadiusM(10000, 1, lambda); r != 0 {
		t.Errorf("FresnelRadiusM at t=1 = %v, want 0", r)
	}
	if r := FresnelRadiusM(10000, 0.5, lambda); r <= 0 {
		t.Errorf("FresnelRadiusM at t=0.5 = %v, want > 0", r)
	}
}

func TestCurvatureSagSymmetric(t *testing.T) {
	s1 := CurvatureSagM(5000, 5000, 1.333)
	s2 := CurvatureSagM(2500, 7500, 1.333)
	if s1 <= 0 {
		t.Fatalf("expected positive sag, got %v", s1)
	}
	// equal legs maximize sag for a fixed total distance
	if s2 >= s1 {
		t.Errorf("unequal legs should sag less than equal legs: equal=%v unequal=%v", s1, s2)
	}
}

func TestDiffractionLossZeroBelowThreshold(t *testing.T) {
	if l := DiffractionLossDB(-1); l != 0 {
		t.Errorf("DiffractionLossDB(-1) = %v, want 0", l)
	}
	if l := DiffractionLossDB(1); l <= 0 {
		t.Errorf("DiffractionLossDB(1) = %v, want > 0", l)
	}
}

func flatProfile(n int, elev float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = elev
	}
	return out
}

func TestEvaluateClearPathIsViable(t *testing.T) {
	g := LinkGeometry{
		Elevations: flatProfile(50, 100),
		DistanceM:  5000,
		FreqMHz:    915,
		TxHeightM:  10,
		RxHeightM:  10,
		KFactor:    1.333,
	}
	eval := Evaluate(g, 140)
	verdict := Verdict(eval, 140)
	if verdict != "viable" {
		t.Errorf("flat clear path verdict = %s, want viable (clearance=%v, loss=%v)", verdict, eval.MinClearanceRatio, eval.PathLossDB)
	}
}

func TestEvaluateObstructedPathIsBlocked(t *testing.T) {
	elevs := flatProfile(50, 100)
	elevs[25] = 500 // tall obstruction at midpoint
	g := LinkGeometry{
		Elevations: elevs,
		DistanceM:  5000,
		FreqMHz:    915,
		TxHeightM:  2,
		RxHeightM:  2,
		KFactor:    1.333,
	}
	eval := Evaluate(g, 140)
	verdict := Verdict(eval, 140)
	if verdict != "blocked" {
		t.Errorf("obstructed path verdict = %s, want blocked (clearance=%v)", verdict, eval.MinClearanceRatio)
	}
}

func TestVerdictPathLossBudgetForcesBlocked(t *testing.T) {
	eval := LinkEvaluation{PathLossDB: 200, MinClearanceRatio: 0}
	if v := Verdict(eval, 140); v != "blocked" {
		t.Errorf("over-budget path loss verdict = %s, want blocked", v)
	}
}
