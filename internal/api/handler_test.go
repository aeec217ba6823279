package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"meshrf/internal/jobs"
	"meshrf/internal/sampler"
	"meshrf/internal/tilestore"
)

func newTestHandler(t *testing.T, elevationM float32) *Handler {
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
	s := sampler.New(store, 12)
	orch := jobs.New(s, jobs.Config{
		WorkerPoolSize: 2, MasterGridMaxDim: 4096, TargetResM: 200,
		WallClockBudget: 10 * time.Second, PathLossBudgetDB: 140,
	}, zerolog.Nop())

	return NewHandler(orch, s, nil, zerolog.Nop(), 2.0, 915.0, 1.333, 140.0)
}

func TestGetElevationReturnsSampledValue(t *testing.T) {
	h := newTestHandler(t, 123)
	e := echo.New()

	body, _ := json.Marshal(map[string]float64{"lat": 10, "lon": 10})
	req := httptest.NewRequest(http.MethodPost, "/elevation", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetElevation(c); err != nil {
		t.Fatalf("GetElevation: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["elevation"] < 100 || resp["elevation"] > 150 {
		t.Errorf("elevation = %v, want ~123", resp["elevation"])
	}
}

func TestSubmitJobAndPoll(t *testing.T) {
	h := newTestHandler(t, 50)
	e := echo.New()

	body, _ := json.Marshal(map[string]interface{}{
		"nodes": []map[string]interface{}{
			{"id": "a", "lat": 10, "lon": 10, "height": 10, "name": "site-a", "radius": 500},
		},
		"options": map[string]interface{}{"radius": 500},
	})
	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SubmitJob(c); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	var submitResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &submitResp); err != nil {
		t.Fatalf("decoding submit response: %v", err)
	}
	jobID := submitResp["job_id"]
	if jobID == "" {
		t.Fatal("expected non-empty job_id")
	}

	job, ok := h.orch.Get(jobID)
	if !ok {
		t.Fatalf("job %s not found in orchestrator", jobID)
	}
	deadline := time.After(15 * time.Second)
waitLoop:
	for {
		select {
		case ev := <-job.Events():
			if ev.Done {
				break waitLoop
			}
		case <-deadline:
			t.Fatal("job did not complete in time")
		}
	}

	pollReq := httptest.NewRequest(http.MethodGet, "/jobs/"+jobID, nil)
	pollRec := httptest.NewRecorder()
	pollCtx := e.NewContext(pollReq, pollRec)
	pollCtx.SetParamNames("id")
	pollCtx.SetParamValues(jobID)

	if err := h.GetJob(pollCtx); err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if pollRec.Code != http.StatusOK {
		t.Fatalf("poll status = %d, want 200", pollRec.Code)
	}
}

func TestHealthReportsRedisDisabledWhenNil(t *testing.T) {
	h := newTestHandler(t, 0)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Health(c); err != nil {
		t.Fatalf("Health: %v", err)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["redis"] != "disabled" {
		t.Errorf("redis status = %s, want disabled", resp["redis"])
	}
}
