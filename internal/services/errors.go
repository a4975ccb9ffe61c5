package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dpup/prefab/logging"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/campusmap/navcore/server/internal/lib/route"
	"github.com/campusmap/navcore/server/internal/session"
	"github.com/campusmap/navcore/server/internal/tracking"
)

var (
	// ErrSessionNotFound is returned for unknown or reaped session ids
	ErrSessionNotFound = errors.New("navigation session not found")

	errNoActiveRoute = errors.New("session has no active route")
)

// codeFor maps the navigation error taxonomy onto gRPC codes
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, route.ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, route.ErrNoRouteFound), errors.Is(err, ErrSessionNotFound):
		return codes.NotFound
	case errors.Is(err, route.ErrProviderUnavailable):
		return codes.Unavailable
	case errors.Is(err, route.ErrPositionUnavailable),
		errors.Is(err, errNoActiveRoute),
		errors.Is(err, tracking.ErrNotSubscribed):
		return codes.FailedPrecondition
	case errors.Is(err, session.ErrSuperseded):
		return codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

// toStatus converts err into a gRPC status carrying the mapped code
func toStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(codeFor(err), err.Error())
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes err as JSON with the HTTP status gRPC gateways use for its code
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	st := toStatus(err)
	httpStatus := runtime.HTTPStatusFromCode(st.Code())

	if httpStatus >= http.StatusInternalServerError {
		logging.Errorw(r.Context(), "Navigation: request failed", "path", r.URL.Path, "error", err)
	} else {
		logging.Debugw(r.Context(), "Navigation: request rejected", "path", r.URL.Path, "code", st.Code().String(), "error", err)
	}

	writeJSON(w, httpStatus, errorBody{Code: st.Code().String(), Message: st.Message()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
