package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/repository"
	"github.com/jmylchreest/convertarr/internal/service"
)

// JobHandler handles job API endpoints.
type JobHandler struct {
	svc *service.ConversionService
}

// NewJobHandler creates a new job handler.
func NewJobHandler(svc *service.ConversionService) *JobHandler {
	return &JobHandler{svc: svc}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs newest first, optionally filtered by status",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns a job's state, progress and outcome",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "cancelJob",
		Method:      http.MethodPost,
		Path:        "/api/v1/jobs/{id}/cancel",
		Summary:     "Cancel job",
		Description: "Cancels a pending or running job",
		Tags:        []string{"Jobs"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "getRunnerStatus",
		Method:      http.MethodGet,
		Path:        "/api/v1/runner",
		Summary:     "Get runner status",
		Description: "Returns the worker pool status",
		Tags:        []string{"Jobs"},
	}, h.GetRunnerStatus)
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" doc:"Filter by status" enum:"pending,running,completed,failed,cancelled,"`
	Limit  int    `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum number of jobs"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns jobs.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.svc.ListJobs(ctx, repository.JobFilter{
		Status: models.JobStatus(input.Status),
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, apiError("failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetByID returns a job by ID.
func (h *JobHandler) GetByID(ctx context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.svc.GetJob(ctx, id)
	if err != nil {
		return nil, apiError("failed to get job", err)
	}
	return &GetJobOutput{Body: JobFromModel(job)}, nil
}

// CancelJobInput is the input for cancelling a job.
type CancelJobInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelJobOutput is the output for cancelling a job.
type CancelJobOutput struct {
	Body JobResponse
}

// Cancel cancels a job.
func (h *JobHandler) Cancel(ctx context.Context, input *CancelJobInput) (*CancelJobOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	job, err := h.svc.CancelJob(ctx, id)
	if err != nil {
		return nil, apiError("failed to cancel job", err)
	}
	return &CancelJobOutput{Body: JobFromModel(job)}, nil
}

// GetRunnerStatusInput is the input for getting runner status.
type GetRunnerStatusInput struct{}

// GetRunnerStatusOutput is the output for getting runner status.
type GetRunnerStatusOutput struct {
	Body RunnerStatusResponse
}

// GetRunnerStatus returns the worker pool status.
func (h *JobHandler) GetRunnerStatus(ctx context.Context, _ *GetRunnerStatusInput) (*GetRunnerStatusOutput, error) {
	status, ok := h.svc.RunnerStatus(ctx)
	if !ok {
		return nil, huma.Error503ServiceUnavailable("runner not configured")
	}
	return &GetRunnerStatusOutput{Body: RunnerStatusFromScheduler(status)}, nil
}
