package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aves-app/aves/internal/buildinfo"
	"github.com/aves-app/aves/internal/datastore"
	"github.com/aves-app/aves/internal/jobs"
	"github.com/aves-app/aves/internal/logger"
)

const (
	defaultImagesPerSpecies = 5
	maxCollectSpecies       = 100
)

// CollectRequest is the body of POST /api/admin/images/collect. An empty
// species list collects for every species.
type CollectRequest struct {
	SpeciesIDs       []string `json:"speciesIds" validate:"omitempty,max=100,dive,uuid"`
	ImagesPerSpecies int      `json:"imagesPerSpecies" validate:"omitempty,min=1,max=30"`
}

// JobAccepted is the 202 body of endpoints that start a job.
type JobAccepted struct {
	JobID   string      `json:"jobId"`
	Status  jobs.Status `json:"status"`
	Total   int         `json:"total"`
	Message string      `json:"message"`
}

// CollectImages handles POST /api/admin/images/collect.
func (c *Controller) CollectImages(ctx echo.Context) error {
	if c.collector == nil {
		return c.unavailable(ctx, "Image collection")
	}
	var req CollectRequest
	if err := bindAndValidate(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "Invalid collection request")
	}
	perSpecies := req.ImagesPerSpecies
	if perSpecies == 0 {
		perSpecies = defaultImagesPerSpecies
	}

	reqCtx := ctx.Request().Context()
	var species []datastore.Species
	if len(req.SpeciesIDs) == 0 {
		all, err := c.DS.AllSpecies(reqCtx)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to load species")
		}
		species = all
	} else {
		for _, id := range req.SpeciesIDs {
			sp, err := c.DS.GetSpecies(reqCtx, id)
			if err != nil {
				return c.HandleError(ctx, err, "Failed to load species")
			}
			species = append(species, *sp)
		}
	}
	if len(species) == 0 {
		return c.HandleError(ctx, invalid("no species to collect images for"), "Invalid collection request")
	}
	if len(species) > maxCollectSpecies {
		species = species[:maxCollectSpecies]
	}

	job, err := c.Jobs.Submit(jobs.TypeImageCollection, len(species), map[string]any{
		"imagesPerSpecies": perSpecies,
		"requestedBy":      currentUser(ctx).ID,
	}, c.collector.CollectJob(species, perSpecies))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to start image collection")
	}

	c.log.Info("image collection started",
		logger.String("job_id", job.ID),
		logger.Int("species", len(species)),
		logger.Int("per_species", perSpecies))
	return ctx.JSON(http.StatusAccepted, JobAccepted{
		JobID:   job.ID,
		Status:  job.Status,
		Total:   job.Total,
		Message: "Image collection started",
	})
}

// jobView adds the computed progress percentage to a job snapshot.
type jobView struct {
	jobs.Job
	Progress float64 `json:"progress"`
}

func viewOf(j jobs.Job) jobView {
	return jobView{Job: j, Progress: j.Progress()}
}

// ListJobs handles GET /api/admin/jobs with optional type and status filters.
func (c *Controller) ListJobs(ctx echo.Context) error {
	filter := jobs.Filter{
		Type:   jobs.Type(ctx.QueryParam("type")),
		Status: jobs.Status(ctx.QueryParam("status")),
	}
	switch filter.Type {
	case "", jobs.TypeImageCollection, jobs.TypeBatchAnnotation:
	default:
		return c.HandleError(ctx, invalidField("type", "oneof", "type must be image_collection or batch_annotation"), "Invalid query")
	}
	switch filter.Status {
	case "", jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed, jobs.StatusCancelled:
	default:
		return c.HandleError(ctx, invalidField("status", "oneof", "unknown job status"), "Invalid query")
	}

	list := c.Jobs.List(filter)
	views := make([]jobView, 0, len(list))
	for _, j := range list {
		views = append(views, viewOf(j))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"data": views, "count": len(views)})
}

// GetJob handles GET /api/admin/jobs/:id.
func (c *Controller) GetJob(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid job id")
	}
	job, err := c.Jobs.Get(id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get job")
	}
	return ctx.JSON(http.StatusOK, viewOf(job))
}

// CancelJob handles POST /api/admin/jobs/:id/cancel.
func (c *Controller) CancelJob(ctx echo.Context) error {
	id, err := pathID(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid job id")
	}
	job, err := c.Jobs.Cancel(id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to cancel job")
	}
	c.log.Info("job cancelled", logger.String("job_id", id), logger.String("user_id", currentUser(ctx).ID))
	return ctx.JSON(http.StatusOK, viewOf(job))
}

// AdminStats is the admin dashboard summary.
type AdminStats struct {
	Counts  *datastore.DashboardCounts `json:"counts"`
	Review  *datastore.AIStats         `json:"review"`
	Jobs    map[jobs.Status]int        `json:"jobs"`
	Uptime  string                     `json:"uptime"`
	Version string                     `json:"version,omitempty"`
}

// AdminStats handles GET /api/admin/stats. The count queries run concurrently.
func (c *Controller) AdminStats(ctx echo.Context) error {
	stats := AdminStats{
		Jobs:    c.Jobs.Counts(),
		Uptime:  time.Since(c.startTime).Round(time.Second).String(),
		Version: buildinfo.Current().GetVersion(),
	}

	g, gctx := errgroup.WithContext(ctx.Request().Context())
	g.Go(func() error {
		counts, err := c.DS.DashboardCounts(gctx)
		stats.Counts = counts
		return err
	})
	g.Go(func() error {
		review, err := c.DS.AIStats(gctx)
		stats.Review = review
		return err
	})
	if err := g.Wait(); err != nil {
		return c.HandleError(ctx, err, "Failed to load dashboard stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// PurgeExerciseCache handles POST /api/admin/exercise-cache/purge.
func (c *Controller) PurgeExerciseCache(ctx echo.Context) error {
	n, err := c.DS.PurgeExpiredExercises(ctx.Request().Context(), c.now())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to purge exercise cache")
	}
	c.log.Info("exercise cache purged", logger.Int64("removed", n))
	return ctx.JSON(http.StatusOK, map[string]any{"purged": n})
}
