package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFor(coreErr)
	}

	// Transport-level failures against the workflow service.
	var transportErr *workflow.TransportError
	if errors.As(err, &transportErr) && transportErr != nil {
		return &core.Error{
			Type:          core.ErrUpstream,
			Message:       "workflow service unreachable",
			RequestID:     requestID,
			UpstreamError: transportErr.Error(),
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFor(err *core.Error) int {
	// Concurrent pipeline invocations are a conflict, not a bad request.
	if err.Type == core.ErrPrecondition && err.Code == "already_processing" {
		return http.StatusConflict
	}
	return statusFromType(err.Type)
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest, core.ErrPrecondition:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrOverloaded:
		return 529
	case core.ErrUpstream:
		return http.StatusBadGateway
	case core.ErrAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
