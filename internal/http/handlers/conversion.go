package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/service"
)

// ConversionHandler handles conversion API endpoints.
type ConversionHandler struct {
	svc *service.ConversionService
}

// NewConversionHandler creates a new conversion handler.
func NewConversionHandler(svc *service.ConversionService) *ConversionHandler {
	return &ConversionHandler{svc: svc}
}

// Register registers the conversion routes with the API.
func (h *ConversionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "enqueueConversion",
		Method:        http.MethodPost,
		Path:          "/api/v1/conversions",
		Summary:       "Enqueue conversion",
		Description:   "Queues a conversion of an uploaded file and returns the job",
		Tags:          []string{"Conversions"},
		DefaultStatus: http.StatusAccepted,
	}, h.Enqueue)

	huma.Register(api, huma.Operation{
		OperationID: "convertNow",
		Method:      http.MethodPost,
		Path:        "/api/v1/conversions/sync",
		Summary:     "Convert synchronously",
		Description: "Runs a conversion outside the queue and returns the output once it is written",
		Tags:        []string{"Conversions"},
	}, h.ConvertNow)

	huma.Register(api, huma.Operation{
		OperationID:   "createThumbnail",
		Method:        http.MethodPost,
		Path:          "/api/v1/thumbnails",
		Summary:       "Create thumbnail",
		Description:   "Grabs a single scaled frame of an uploaded video as an image",
		Tags:          []string{"Conversions"},
		DefaultStatus: http.StatusCreated,
	}, h.Thumbnail)

	huma.Register(api, huma.Operation{
		OperationID:   "concatenate",
		Method:        http.MethodPost,
		Path:          "/api/v1/concatenations",
		Summary:       "Concatenate uploads",
		Description:   "Joins uploads end to end with stream copy and returns the output once it is written",
		Tags:          []string{"Conversions"},
		DefaultStatus: http.StatusCreated,
	}, h.Concat)
}

// EnqueueConversionInput is the input for enqueueing a conversion.
type EnqueueConversionInput struct {
	Body ConversionRequest
}

// EnqueueConversionOutput is the output for enqueueing a conversion.
type EnqueueConversionOutput struct {
	Location string `header:"Location"`
	Body     JobResponse
}

// Enqueue queues a conversion.
func (h *ConversionHandler) Enqueue(ctx context.Context, input *EnqueueConversionInput) (*EnqueueConversionOutput, error) {
	job, err := h.svc.EnqueueConversion(ctx, service.ConversionRequest{
		SourceID:     input.Body.SourceID,
		OutputFormat: input.Body.OutputFormat,
		Options:      input.Body.Options,
	})
	if err != nil {
		return nil, apiError("failed to enqueue conversion", err)
	}
	return &EnqueueConversionOutput{
		Location: "/api/v1/jobs/" + job.ID.String(),
		Body:     JobFromModel(job),
	}, nil
}

// ConvertNowInput is the input for a synchronous conversion.
type ConvertNowInput struct {
	Body ConversionRequest
}

// ConvertNowOutput is the output for a synchronous conversion.
type ConvertNowOutput struct {
	Body ConversionResultResponse
}

// ConvertNow runs a conversion and waits for it.
func (h *ConversionHandler) ConvertNow(ctx context.Context, input *ConvertNowInput) (*ConvertNowOutput, error) {
	result, err := h.svc.ConvertNow(ctx, service.ConversionRequest{
		SourceID:     input.Body.SourceID,
		OutputFormat: input.Body.OutputFormat,
		Options:      input.Body.Options,
	}, nil)
	if err != nil {
		return nil, apiError("conversion failed", err)
	}
	return &ConvertNowOutput{Body: *ConversionResultFromModel(result)}, nil
}

// ThumbnailInput is the input for creating a thumbnail.
type ThumbnailInput struct {
	Body ThumbnailRequest
}

// ThumbnailOutput is the output for creating a thumbnail.
type ThumbnailOutput struct {
	Body ConversionResultResponse
}

// Thumbnail grabs a frame and waits for it.
func (h *ConversionHandler) Thumbnail(ctx context.Context, input *ThumbnailInput) (*ThumbnailOutput, error) {
	result, err := h.svc.Thumbnail(ctx, conversion.ThumbnailRequest{
		SourceID:  input.Body.SourceID,
		Timestamp: input.Body.Timestamp,
		Width:     input.Body.Width,
		Height:    input.Body.Height,
		Format:    input.Body.Format,
	})
	if err != nil {
		return nil, apiError("thumbnail failed", err)
	}
	return &ThumbnailOutput{Body: *ConversionResultFromModel(result)}, nil
}

// ConcatInput is the input for concatenating uploads.
type ConcatInput struct {
	Body ConcatRequest
}

// ConcatOutput is the output for concatenating uploads.
type ConcatOutput struct {
	Body ConversionResultResponse
}

// Concat joins uploads and waits for the output.
func (h *ConversionHandler) Concat(ctx context.Context, input *ConcatInput) (*ConcatOutput, error) {
	result, err := h.svc.Concat(ctx, conversion.ConcatRequest{
		SourceIDs:    input.Body.SourceIDs,
		OutputFormat: input.Body.OutputFormat,
	}, nil)
	if err != nil {
		return nil, apiError("concatenation failed", err)
	}
	return &ConcatOutput{Body: *ConversionResultFromModel(result)}, nil
}
