// Package jobs implements the batch coverage-job orchestrator: accepts a
// batch job payload, derives the bounding box, drives per-site
// Viewshed / SiteSelector / Compositor, and publishes progress.
//
// The job queue and worker pool are treated as an external dependency in
// larger deployments but are implemented here as an in-process stand-in
// so the service runs end to end: each submitted job runs on its own
// goroutine, and the number of jobs running at once is not bounded;
// Config.WorkerPoolSize bounds only the per-candidate viewshed fan-out
// inside a job. Progress is stored on the Job, which the API layer reads
// through Snapshot, and is also published on a per-job channel (Events).
package jobs

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"meshrf/internal/compositor"
	"meshrf/internal/geoproj"
	"meshrf/internal/metrics"
	"meshrf/internal/model"
	"meshrf/internal/sampler"
	"meshrf/internal/selector"
	"meshrf/internal/viewshed"
)

// NodeInput is one candidate site in a batch job request.
type NodeInput struct {
	ID     string
	Lat    float64
	Lon    float64
	Height float64
	Name   string
	Radius float64 // 0 means "use Options.Radius"
}

// Options are the job-wide defaults and knobs for a batch run.
type Options struct {
	Radius       float64
	OptimizeN    int // 0 means "not provided": select all
	RxHeight     float64
	FreqMHz      float64
	KFactor      float64
	ClutterM     float64
}

// Input is a full batch job request.
type Input struct {
	Nodes   []NodeInput
	Options Options
}

// Output is the completed batch job payload returned to API callers.
type Output struct {
	Status                 string             `json:"status"`
	Results                []model.SiteResult `json:"results"`
	InterNodeLinks         []model.LinkResult `json:"inter_node_links"`
	TotalUniqueCoverageKM2 float64            `json:"total_unique_coverage_km2"`
	Composite              CompositePayload   `json:"composite"`
}

// CompositePayload is the rendered master-grid overlay.
type CompositePayload struct {
	Image  string       `json:"image"`
	Bounds model.Bounds `json:"bounds"`
}

// ProgressEvent is published on a job's progress channel as it advances.
type ProgressEvent struct {
	Progress int
	Message  string
	Done     bool
	Err      error
	Result   *Output
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Job is the stored state of one in-flight or completed batch job.
type Job struct {
	ID       string
	Status   Status
	Progress int
	Result   *Output
	Err      error

	events chan ProgressEvent
	cancel context.CancelFunc
	mu     sync.Mutex
}

// Events returns the job's progress channel. It is closed when the job
// reaches a terminal state.
func (j *Job) Events() <-chan ProgressEvent {
	return j.events
}

func (j *Job) setProgress(p int, msg string) {
	j.mu.Lock()
	j.Progress = p
	j.mu.Unlock()
	select {
	case j.events <- ProgressEvent{Progress: p, Message: msg}:
	default:
	}
}

func (j *Job) finish(status Status, result *Output, err error) {
	j.mu.Lock()
	j.Status = status
	j.Result = result
	j.Err = err
	j.mu.Unlock()
	j.events <- ProgressEvent{Progress: 100, Done: true, Result: result, Err: err}
	close(j.events)
}

// Snapshot returns a consistent copy of the job's current state.
func (j *Job) Snapshot() (status Status, progress int, result *Output, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.Status, j.Progress, j.Result, j.Err
}

// Config configures the Orchestrator.
type Config struct {
	WorkerPoolSize   int
	MasterGridMaxDim int
	TargetResM       float64
	WallClockBudget  time.Duration
	PathLossBudgetDB float64
}

// Orchestrator runs batch coverage jobs against a shared Sampler.
type Orchestrator struct {
	sampler *sampler.Sampler
	cfg     Config
	log     zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

// New builds an Orchestrator backed by s.
func New(s *sampler.Sampler, cfg Config, log zerolog.Logger) *Orchestrator {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 4
	}
	if cfg.MasterGridMaxDim <= 0 {
		cfg.MasterGridMaxDim = 4096
	}
	if cfg.TargetResM <= 0 {
		cfg.TargetResM = 100
	}
	return &Orchestrator{
		sampler: s,
		cfg:     cfg,
		log:     log,
		jobs:    make(map[string]*Job),
	}
}

// Submit validates and starts a new batch job, returning its ID
// immediately. The job runs asynchronously; progress is available via
// Get and the job's event channel.
func (o *Orchestrator) Submit(ctx context.Context, input Input) (*Job, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	jobCtx, cancel := context.WithTimeout(context.Background(), o.cfg.WallClockBudget)

	job := &Job{
		ID:     uuid.NewString(),
		Status: StatusRunning,
		events: make(chan ProgressEvent, 16),
		cancel: cancel,
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	go func() {
		defer cancel()
		start := time.Now()
		out, err := o.run(jobCtx, job, input)
		metrics.JobDurationSeconds.Observe(time.Since(start).Seconds())
		switch {
		case jobCtx.Err() != nil:
			metrics.JobsTotal.WithLabelValues("canceled").Inc()
			job.finish(StatusCanceled, nil, &CanceledError{})
		case err != nil:
			metrics.JobsTotal.WithLabelValues("failed").Inc()
			job.finish(StatusFailed, nil, err)
		default:
			metrics.JobsTotal.WithLabelValues("completed").Inc()
			job.finish(StatusCompleted, out, nil)
		}
	}()

	return job, nil
}

// Get returns the job with the given ID, if it exists.
func (o *Orchestrator) Get(id string) (*Job, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	j, ok := o.jobs[id]
	return j, ok
}

// ParetoPoint is one point on a multi-objective optimization front.
type ParetoPoint struct {
	NodeIndices []int
	CostUSD     float64
	CoverageKM2 float64
}

// OptimizePareto is a stub for multi-objective site-placement
// optimization (cost vs. coverage vs. link quality), out of scope for
// now; the method exists so the interface this service will eventually
// grow into is visible.
func (o *Orchestrator) OptimizePareto(ctx context.Context, input Input) ([]ParetoPoint, error) {
	return nil, nil
}

// Cancel signals cancellation of a running job. Idempotent.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.RLock()
	j, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	j.cancel()
	return true
}

func validate(input Input) error {
	if len(input.Nodes) == 0 {
		return &InvalidInputError{Reason: "nodes list is empty"}
	}
	if input.Options.OptimizeN > len(input.Nodes) {
		return &InvalidInputError{Reason: fmt.Sprintf("optimize_n %d exceeds node count %d", input.Options.OptimizeN, len(input.Nodes))}
	}
	for i, n := range input.Nodes {
		if !isFinite(n.Lat) || n.Lat < -90 || n.Lat > 90 {
			return &InvalidInputError{Reason: fmt.Sprintf("node %d: latitude %v out of range", i, n.Lat)}
		}
		if !isFinite(n.Lon) || n.Lon < -180 || n.Lon > 180 {
			return &InvalidInputError{Reason: fmt.Sprintf("node %d: longitude %v out of range", i, n.Lon)}
		}
		r := n.Radius
		if r == 0 {
			r = input.Options.Radius
		}
		if !isFinite(r) || r <= 0 {
			return &InvalidInputError{Reason: fmt.Sprintf("node %d: radius %v must be positive and finite", i, r)}
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// run drives the full pipeline for one job: bounding box, per-site
// Viewshed (progress 0->50%), SiteSelector, Compositor (checkpoint at
// 55%), and final assembly.
func (o *Orchestrator) run(ctx context.Context, job *Job, input Input) (*Output, error) {
	affine, resM, err := o.planMasterGrid(input)
	if err != nil {
		return nil, err
	}

	job.setProgress(0, "computing viewsheds")

	rasters := make([]*model.Raster, len(input.Nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.WorkerPoolSize)

	var done int32
	var mu sync.Mutex

	for i, n := range input.Nodes {
		i, n := i, n
		g.Go(func() error {
			r := n.Radius
			if r == 0 {
				r = input.Options.Radius
			}
			raster, err := viewshed.Compute(gctx, o.sampler, viewshed.Params{
				TxLat: n.Lat, TxLon: n.Lon, TxHeightM: n.Height,
				RadiusM: r, RxHeightM: input.Options.RxHeight,
				FreqMHz: input.Options.FreqMHz, KFactor: input.Options.KFactor,
				ResM: resM, ClutterM: input.Options.ClutterM,
			})
			if err != nil {
				o.log.Warn().Str("node", n.ID).Err(err).Msg("viewshed failed, dropping candidate")
				return nil
			}
			rasters[i] = raster

			mu.Lock()
			done++
			progress := int(float64(done) / float64(len(input.Nodes)) * 50)
			mu.Unlock()
			job.setProgress(progress, "computing viewsheds")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var candidates []selector.Candidate
	var keptNodes []NodeInput
	var candidatePixels [][]int32
	for i, r := range rasters {
		if r == nil {
			continue
		}
		pixels := selector.PixelsFromRaster(r, affine)
		candidates = append(candidates, selector.Candidate{Index: len(keptNodes), Pixels: pixels})
		keptNodes = append(keptNodes, input.Nodes[i])
		candidatePixels = append(candidatePixels, pixels)
	}

	selResult := selector.Select(candidates, input.Options.OptimizeN)

	job.setProgress(55, "analyzing links")

	sites := make([]compositor.Site, len(selResult.SelectedIdx))
	selectedPixels := make([][]int32, len(selResult.SelectedIdx))
	for k, idx := range selResult.SelectedIdx {
		n := keptNodes[idx]
		sites[k] = compositor.Site{
			Lat: n.Lat, Lon: n.Lon, Name: n.Name, HeightM: n.Height,
			ElevationM: float64(o.sampler.Elevation(ctx, n.Lat, n.Lon)),
		}
		selectedPixels[k] = candidatePixels[idx]
	}

	out := compositor.Composite(ctx, o.sampler, affine, resM, selResult, sites, selectedPixels, compositor.LinkOptions{
		FreqMHz: input.Options.FreqMHz,
		KFactor: input.Options.KFactor, ClutterM: input.Options.ClutterM,
		PathLossBudgetDB: o.cfg.PathLossBudgetDB,
	}, o.log)

	totalUnique := float64(len(selResult.Covered)) * (resM * resM) / 1e6

	job.setProgress(100, "done")

	return &Output{
		Status:                 "completed",
		Results:                out.Results,
		InterNodeLinks:         out.Links,
		TotalUniqueCoverageKM2: totalUnique,
		Composite:              CompositePayload{Image: out.OverlayPNGBase64, Bounds: out.Bounds},
	}, nil
}

// planMasterGrid derives the bounding box covering every node's radius
// and chooses a resolution, scaling it up if the naive grid would exceed
// the configured max dimension, and failing with ResourceExceeded if
// even that is not enough.
func (o *Orchestrator) planMasterGrid(input Input) (geoproj.Affine, float64, error) {
	north, south := -90.0, 90.0
	east, west := -180.0, 180.0

	for _, n := range input.Nodes {
		r := n.Radius
		if r == 0 {
			r = input.Options.Radius
		}
		dLat := geoproj.MetersToDegLat(r)
		dLon := geoproj.MetersToDegLon(r, n.Lat)

		north = math.Max(north, n.Lat+dLat)
		south = math.Min(south, n.Lat-dLat)
		east = math.Max(east, n.Lon+dLon)
		west = math.Min(west, n.Lon-dLon)
	}

	resM := o.cfg.TargetResM
	meanLat := (north + south) / 2
	heightM := geoproj.DegLatToMetersM(north - south)
	widthM := (east - west) * geoproj.MetersPerDegLon(meanLat)

	rows := int(heightM/resM) + 1
	cols := int(widthM/resM) + 1

	maxDim := o.cfg.MasterGridMaxDim
	if rows > maxDim || cols > maxDim {
		scale := math.Max(float64(rows)/float64(maxDim), float64(cols)/float64(maxDim))
		resM *= scale
		rows = int(heightM/resM) + 1
		cols = int(widthM/resM) + 1
	}

	if rows > maxDim || cols > maxDim {
		return geoproj.Affine{}, 0, &ResourceExceededError{RequestedDim: int(math.Max(float64(rows), float64(cols))), MaxDim: maxDim}
	}

	return geoproj.Affine{North: north, South: south, East: east, West: west, Rows: rows, Cols: cols}, resM, nil
}
