package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/convertarr/internal/conversion"
	"github.com/jmylchreest/convertarr/internal/models"
	"github.com/jmylchreest/convertarr/internal/service"
	"github.com/jmylchreest/convertarr/internal/storage"
)

// apiError maps service errors onto problem responses.
func apiError(msg string, err error) error {
	var validation models.ErrValidation
	var execErr *conversion.ExecutionError

	switch {
	case errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, service.ErrFileNotFound),
		errors.Is(err, conversion.ErrSourceNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, models.ErrJobFinished):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &validation),
		errors.Is(err, models.ErrSourceIDRequired),
		errors.Is(err, models.ErrOutputFormatRequired),
		errors.Is(err, conversion.ErrUnsupportedFormat):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, storage.ErrOutsideSandbox):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &execErr):
		return huma.Error502BadGateway(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
