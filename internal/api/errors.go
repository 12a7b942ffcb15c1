package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ows/internal/agent"
	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/form"
	"github.com/joeblew999/plat-ows/internal/overlay"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
	"github.com/joeblew999/plat-ows/internal/service"
	"github.com/joeblew999/plat-ows/pkg/logging"
)

// toHumaError maps domain errors onto HTTP problem responses.
func toHumaError(err error) error {
	var (
		verr   *request.ValidationError
		status *fetch.StatusError
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrNotFound), errors.Is(err, form.ErrUnknownField):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrExists), errors.Is(err, service.ErrSuperseded), errors.Is(err, service.ErrNoQuery):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &verr):
		return huma.Error422UnprocessableEntity(verr.Error())
	case errors.Is(err, form.ErrInvalidValue), errors.Is(err, form.ErrCRSRequired), errors.Is(err, agent.ErrNoEntriesFound):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrNoServiceURL), errors.Is(err, ows.ErrUnknownKind):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, agent.ErrCapabilitiesTimeout), errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	case errors.As(err, &status),
		errors.Is(err, fetch.ErrResponseTooLarge),
		errors.Is(err, ows.ErrMalformedDocument),
		errors.Is(err, overlay.ErrInvalidGeoJSON),
		errors.Is(err, ows.ErrNoObservations),
		errors.Is(err, crs.ErrLookupFailed),
		errors.Is(err, agent.ErrCompletion),
		errors.Is(err, agent.ErrEmptyCompletion):
		return huma.Error502BadGateway(err.Error())
	}
	logging.Error("Server", err, "unexpected handler error")
	return huma.Error500InternalServerError("internal error", err)
}
