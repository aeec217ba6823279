package jobs

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"meshrf/internal/geoproj"
	"meshrf/internal/sampler"
	"meshrf/internal/tilestore"
)

func flatTerrainSampler(t *testing.T, elevationM float32) *sampler.Sampler {
	t.Helper()
	elev := make([]float32, 256*256)
	for i := range elev {
		elev[i] = elevationM
	}
	png, err := tilestore.EncodeTerrainRGB(256, 256, elev)
	if err != nil {
		t.Fatalf("building test tile: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png)
	}))
	t.Cleanup(srv.Close)

	store, err := tilestore.New(tilestore.Config{
		MemCacheSize: 256, RedisTTL: time.Hour,
		UpstreamURLFmt: srv.URL + "/%d/%d/%d.png",
		FetchTimeout:   5 * time.Second, FetchConcurrency: 4,
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("building tilestore: %v", err)
	}
	return sampler.New(store, 12)
}

func TestValidateRejectsEmptyNodes(t *testing.T) {
	err := validate(Input{Options: Options{Radius: 1000}})
	if _, ok := err.(*InvalidInputError); !ok {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestValidateRejectsOutOfRangeLatitude(t *testing.T) {
	err := validate(Input{
		Nodes:   []NodeInput{{Lat: 200, Lon: 0, Radius: 1000}},
		Options: Options{Radius: 1000},
	})
	if _, ok := err.(*InvalidInputError); !ok {
		t.Fatalf("expected InvalidInputError for bad latitude, got %v", err)
	}
}

func TestValidateRejectsOptimizeNTooLarge(t *testing.T) {
	err := validate(Input{
		Nodes:   []NodeInput{{Lat: 0, Lon: 0, Radius: 1000}},
		Options: Options{Radius: 1000, OptimizeN: 5},
	})
	if _, ok := err.(*InvalidInputError); !ok {
		t.Fatalf("expected InvalidInputError for oversized optimize_n, got %v", err)
	}
}

func TestValidateAcceptsWellFormedInput(t *testing.T) {
	err := validate(Input{
		Nodes:   []NodeInput{{Lat: 10, Lon: 10, Radius: 1000}},
		Options: Options{Radius: 1000},
	})
	if err != nil {
		t.Errorf("expected valid input to pass, got %v", err)
	}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	s := flatTerrainSampler(t, 50)
	orch := New(s, Config{
		WorkerPoolSize: 2, MasterGridMaxDim: 4096, TargetResM: 200,
		WallClockBudget: 10 * time.Second, PathLossBudgetDB: 140,
	}, zerolog.Nop())

	job, err := orch.Submit(context.Background(), Input{
		Nodes: []NodeInput{{ID: "a", Lat: 10, Lon: 10, Height: 10, Name: "site-a", Radius: 500}},
		Options: Options{
			Radius: 500, RxHeight: 2, FreqMHz: 915, KFactor: 1.333,
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev := <-job.Events():
			if ev.Done {
				if ev.Err != nil {
					t.Fatalf("job failed: %v", ev.Err)
				}
				if ev.Result == nil {
					t.Fatalf("completed job has nil result")
				}
				if ev.Result.Status != "completed" {
					t.Errorf("status = %s, want completed", ev.Result.Status)
				}
				if len(ev.Result.Results) != 1 {
					t.Errorf("expected 1 site result, got %d", len(ev.Result.Results))
				}
				return
			}
		case <-deadline:
			t.Fatal("job did not complete in time")
		}
	}
}

func TestSubmitRejectsInvalidInputSynchronously(t *testing.T) {
	s := flatTerrainSampler(t, 50)
	orch := New(s, Config{WallClockBudget: time.Second}, zerolog.Nop())

	_, err := orch.Submit(context.Background(), Input{})
	if err == nil {
		t.Fatal("expected Submit to reject an empty node list")
	}
}

// TestFlatOceanCoverageMatchesDiskArea (scenario: one node over flat
// synthetic terrain) drives the full pipeline for a single 2 km-radius
// node and checks the reported coverage area against the area of a disk
// of that radius, within 10%.
func TestFlatOceanCoverageMatchesDiskArea(t *testing.T) {
	s := flatTerrainSampler(t, 0)
	orch := New(s, Config{
		WorkerPoolSize: 4, MasterGridMaxDim: 4096, TargetResM: 50,
		WallClockBudget: 20 * time.Second, PathLossBudgetDB: 140,
	}, zerolog.Nop())

	job, err := orch.Submit(context.Background(), Input{
		Nodes: []NodeInput{{ID: "a", Lat: 0, Lon: 0, Height: 10, Name: "ocean", Radius: 2000}},
		Options: Options{
			Radius: 2000, RxHeight: 2, FreqMHz: 915, KFactor: 1.333,
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out := waitForCompletion(t, job)
	if len(out.Results) != 1 {
		t.Fatalf("expected 1 site result, got %d", len(out.Results))
	}

	wantKM2 := math.Pi * 2 * 2 // pi * r_km^2
	gotKM2 := out.Results[0].CoverageKM2
	if gotKM2 < wantKM2*0.9 || gotKM2 > wantKM2*1.1 {
		t.Errorf("coverage = %.2f km2, want %.2f km2 +-10%%", gotKM2, wantKM2)
	}
}

// TestCoincidentNodesDeduplicateToOneSelection (scenario: two coincident
// candidate nodes) checks that the greedy selector, facing two candidates
// with identical coverage, only ever selects one: the second contributes
// zero marginal gain and is dropped rather than reported at zero.
func TestCoincidentNodesDeduplicateToOneSelection(t *testing.T) {
	s := flatTerrainSampler(t, 0)
	orch := New(s, Config{
		WorkerPoolSize: 4, MasterGridMaxDim: 4096, TargetResM: 100,
		WallClockBudget: 20 * time.Second, PathLossBudgetDB: 140,
	}, zerolog.Nop())

	job, err := orch.Submit(context.Background(), Input{
		Nodes: []NodeInput{
			{ID: "a", Lat: 10, Lon: 10, Height: 10, Name: "a", Radius: 1000},
			{ID: "b", Lat: 10, Lon: 10, Height: 10, Name: "b", Radius: 1000},
		},
		Options: Options{
			Radius: 1000, OptimizeN: 2, RxHeight: 2, FreqMHz: 915, KFactor: 1.333,
		},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out := waitForCompletion(t, job)
	if len(out.Results) != 1 {
		t.Fatalf("expected the greedy selector to keep only 1 of 2 coincident nodes, got %d", len(out.Results))
	}
	if out.Results[0].CoverageKM2 <= 0 {
		t.Errorf("the surviving node should cover a nonzero area, got %v", out.Results[0].CoverageKM2)
	}
}

// TestPlanMasterGridScalesResolutionForContinentalSpread (scenario: nodes
// spread over ~1000 km with a 10 km radius) checks that the grid planner
// scales the resolution up rather than failing with ResourceExceeded.
func TestPlanMasterGridScalesResolutionForContinentalSpread(t *testing.T) {
	s := flatTerrainSampler(t, 0)
	orch := New(s, Config{MasterGridMaxDim: 4096, TargetResM: 100}, zerolog.Nop())

	latSpan := geoproj.MetersToDegLat(1_000_000)
	input := Input{
		Nodes: []NodeInput{
			{Lat: 0, Lon: 0, Radius: 10000},
			{Lat: latSpan, Lon: 0, Radius: 10000},
		},
		Options: Options{Radius: 10000},
	}

	_, resM, err := orch.planMasterGrid(input)
	if err != nil {
		t.Fatalf("planMasterGrid: %v (expected scaling, not ResourceExceeded)", err)
	}
	if resM < 244 {
		t.Errorf("resM = %v, want >= 244 after scaling for a ~1000km spread", resM)
	}
}

// waitForCompletion drains a job's event channel until it reports a
// terminal state, failing the test on error, timeout, or a nil result.
func waitForCompletion(t *testing.T, job *Job) *Output {
	t.Helper()
	deadline := time.After(20 * time.Second)
	for {
		select {
		case ev := <-job.Events():
			if ev.Done {
				if ev.Err != nil {
					t.Fatalf("job failed: %v", ev.Err)
				}
				if ev.Result == nil {
					t.Fatalf("completed job has nil result")
				}
				return ev.Result
			}
		case <-deadline:
			t.Fatal("job did not complete in time")
			return nil
		}
	}
}

func TestGetReturnsSubmittedJob(t *testing.T) {
	s := flatTerrainSampler(t, 50)
	orch := New(s, Config{WallClockBudget: 10 * time.Second}, zerolog.Nop())

	job, err := orch.Submit(context.Background(), Input{
		Nodes:   []NodeInput{{Lat: 1, Lon: 1, Radius: 300}},
		Options: Options{Radius: 300, RxHeight: 2, FreqMHz: 915, KFactor: 1.333},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got, ok := orch.Get(job.ID)
	if !ok || got.ID != job.ID {
		t.Fatalf("Get(%s) did not return the submitted job", job.ID)
	}
}
