// Package api implements the HTTP boundary: batch job submission and
// polling, terrain tile serving, single-point elevation lookup, and
// synchronous two-point link analysis.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meshrf/internal/jobs"
	"meshrf/internal/model"
	"meshrf/internal/rfphysics"
	"meshrf/internal/sampler"
	"meshrf/internal/tilestore"
)

// Handler serves every HTTP route of the service.
type Handler struct {
	orch    *jobs.Orchestrator
	sampler *sampler.Sampler
	redis   *redis.Client
	log     zerolog.Logger

	defaultRxHeight  float64
	defaultFreqMHz   float64
	defaultKFactor   float64
	pathLossBudgetDB float64
	tileGridSize     int
}

// NewHandler builds a Handler with the given dependencies.
func NewHandler(orch *jobs.Orchestrator, s *sampler.Sampler, redisClient *redis.Client, log zerolog.Logger,
	defaultRxHeight, defaultFreqMHz, defaultKFactor, pathLossBudgetDB float64) *Handler {
	return &Handler{
		orch: orch, sampler: s, redis: redisClient, log: log,
		defaultRxHeight: defaultRxHeight, defaultFreqMHz: defaultFreqMHz,
		defaultKFactor: defaultKFactor, pathLossBudgetDB: pathLossBudgetDB,
		tileGridSize: 256,
	}
}

// jobInputDTO is the batch job submission request body.
type jobInputDTO struct {
	Nodes   []nodeDTO  `json:"nodes"`
	Options optionsDTO `json:"options"`
}

type nodeDTO struct {
	ID     string  `json:"id"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Height float64 `json:"height"`
	Name   string  `json:"name"`
	Radius float64 `json:"radius"`
}

type optionsDTO struct {
	Radius        float64  `json:"radius"`
	OptimizeN     *int     `json:"optimize_n"`
	RxHeight      *float64 `json:"rx_height"`
	FreqMHz       *float64 `json:"frequency_mhz"`
	KFactor       *float64 `json:"k_factor"`
	ClutterHeight *float64 `json:"clutter_height"`
}

func (h *Handler) toJobsInput(dto jobInputDTO) jobs.Input {
	opts := jobs.Options{
		Radius:   dto.Options.Radius,
		RxHeight: h.defaultRxHeight,
		FreqMHz:  h.defaultFreqMHz,
		KFactor:  h.defaultKFactor,
	}
	if dto.Options.OptimizeN != nil {
		opts.OptimizeN = *dto.Options.OptimizeN
	}
	if dto.Options.RxHeight != nil {
		opts.RxHeight = *dto.Options.RxHeight
	}
	if dto.Options.FreqMHz != nil {
		opts.FreqMHz = *dto.Options.FreqMHz
	}
	if dto.Options.KFactor != nil {
		opts.KFactor = *dto.Options.KFactor
	}
	if dto.Options.ClutterHeight != nil {
		opts.ClutterM = *dto.Options.ClutterHeight
	}

	nodes := make([]jobs.NodeInput, len(dto.Nodes))
	for i, n := range dto.Nodes {
		nodes[i] = jobs.NodeInput{
			ID: n.ID, Lat: n.Lat, Lon: n.Lon, Height: n.Height, Name: n.Name, Radius: n.Radius,
		}
	}

	return jobs.Input{Nodes: nodes, Options: opts}
}

// SubmitJob handles POST /jobs.
func (h *Handler) SubmitJob(c echo.Context) error {
	var dto jobInputDTO
	if err := c.Bind(&dto); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	job, err := h.orch.Submit(c.Request().Context(), h.toJobsInput(dto))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, echo.Map{"job_id": job.ID})
}

// GetJob handles GET /jobs/:id.
func (h *Handler) GetJob(c echo.Context) error {
	job, ok := h.orch.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "job not found"})
	}

	status, progress, result, jobErr := job.Snapshot()
	resp := echo.Map{"status": status, "progress": progress}
	if result != nil {
		resp["result"] = result
	}
	if jobErr != nil {
		resp["error"] = jobErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelJob handles DELETE /jobs/:id.
func (h *Handler) CancelJob(c echo.Context) error {
	if !h.orch.Cancel(c.Param("id")) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "job not found"})
	}
	return c.NoContent(http.StatusAccepted)
}

// TerrainTile handles GET /tiles/:z/:x/:y.png.
func (h *Handler) TerrainTile(c echo.Context) error {
	z, x, y, err := parseTileParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid tile coordinates"})
	}

	ctx := c.Request().Context()
	grid := h.sampler.Grid(ctx, x, y, z, h.tileGridSize)

	png, err := tilestore.EncodeTerrainRGB(h.tileGridSize, h.tileGridSize, grid)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode terrain tile")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tile render failed"})
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func parseTileParams(c echo.Context) (z, x, y int, err error) {
	z, err = strconv.Atoi(c.Param("z"))
	if err != nil {
		return
	}
	x, err = strconv.Atoi(c.Param("x"))
	if err != nil {
		return
	}

	yRaw := c.Param("y")
	if len(yRaw) > 4 && yRaw[len(yRaw)-4:] == ".png" {
		yRaw = yRaw[:len(yRaw)-4]
	}
	y, err = strconv.Atoi(yRaw)
	if err != nil {
		return
	}

	if z < 0 || z > 22 || x < 0 || y < 0 {
		err = echo.NewHTTPError(http.StatusBadRequest, "tile coordinates out of range")
	}
	return
}

// elevationRequestDTO is a single-point elevation lookup request.
type elevationRequestDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GetElevation handles POST /elevation.
func (h *Handler) GetElevation(c echo.Context) error {
	var req elevationRequestDTO
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	elev := h.sampler.Elevation(c.Request().Context(), req.Lat, req.Lon)
	return c.JSON(http.StatusOK, echo.Map{"lat": req.Lat, "lon": req.Lon, "elevation": elev})
}

// linkAnalysisRequestDTO is a synchronous two-point link analysis
// request.
type linkAnalysisRequestDTO struct {
	A             nodeDTO  `json:"node_a"`
	B             nodeDTO  `json:"node_b"`
	FreqMHz       *float64 `json:"frequency_mhz"`
	KFactor       *float64 `json:"k_factor"`
	RxHeight      *float64 `json:"rx_height"`
	ClutterHeight *float64 `json:"clutter_height"`
}

// AnalyzeLink handles POST /links/analyze: a synchronous two-point link
// evaluation via RFPhysics without running a full batch job.
func (h *Handler) AnalyzeLink(c echo.Context) error {
	var req linkAnalysisRequestDTO
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	freqMHz := h.defaultFreqMHz
	if req.FreqMHz != nil {
		freqMHz = *req.FreqMHz
	}
	kFactor := h.defaultKFactor
	if req.KFactor != nil {
		kFactor = *req.KFactor
	}
	rxHeight := h.defaultRxHeight
	if req.RxHeight != nil {
		rxHeight = *req.RxHeight
	}
	clutter := 0.0
	if req.ClutterHeight != nil {
		clutter = *req.ClutterHeight
	}

	ctx := c.Request().Context()
	const profileSamples = 50
	profile := h.sampler.Profile(ctx,
		model.GeoPoint{Lat: req.A.Lat, Lon: req.A.Lon},
		model.GeoPoint{Lat: req.B.Lat, Lon: req.B.Lon},
		profileSamples)

	geom := rfphysics.LinkGeometry{
		Elevations: profile.Elevations,
		DistanceM:  profile.TotalM,
		FreqMHz:    freqMHz,
		TxHeightM:  req.A.Height,
		RxHeightM:  rxHeight,
		KFactor:    kFactor,
		ClutterM:   clutter,
	}
	eval := rfphysics.Evaluate(geom, h.pathLossBudgetDB)
	verdict := rfphysics.Verdict(eval, h.pathLossBudgetDB)

	return c.JSON(http.StatusOK, model.LinkResult{
		AName: req.A.Name, BName: req.B.Name,
		DistanceKM:        profile.TotalM / 1000,
		Status:            model.LinkStatus(verdict),
		PathLossDB:        eval.PathLossDB,
		MinClearanceRatio: eval.MinClearanceRatio,
	})
}

// Health handles GET /health, reporting liveness plus Redis reachability.
func (h *Handler) Health(c echo.Context) error {
	status := echo.Map{"status": "ok"}

	if h.redis == nil {
		status["redis"] = "disabled"
	} else {
		pingCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.redis.Ping(pingCtx).Err(); err != nil {
			status["redis"] = "unreachable"
		} else {
			status["redis"] = "connected"
		}
	}

	return c.JSON(http.StatusOK, status)
}
