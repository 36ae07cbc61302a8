package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"sidequest/internal/engine"
	"sidequest/internal/engine/auth"
	"sidequest/internal/generator"
	"sidequest/internal/repo"
)

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_decided"`
	Message string         `json:"message" example:"quest already decided"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"quest_id\":\"1b9d6bcd\"}"`
}

// apiError is rendered as {"error": {...}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var statusCodes = map[int]string{
	http.StatusBadRequest:          "bad_request",
	http.StatusUnauthorized:        "unauthorized",
	http.StatusForbidden:           "forbidden",
	http.StatusNotFound:            "not_found",
	http.StatusConflict:            "conflict",
	http.StatusUnprocessableEntity: "validation_failed",
	http.StatusTooManyRequests:     "rate_limited",
	http.StatusInternalServerError: "internal_error",
}

func codeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = codeForStatus(status)
	}
	e := &apiError{status: status}
	e.Body.Code, e.Body.Message, e.Body.Details = code, message, details
	return e
}

// installErrorEnvelope routes huma's own errors (binding, schema checks)
// through apiError. Request validation failures surface as 400.
func installErrorEnvelope() {
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, _ ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		lower := strings.ToLower(msg)
		if status == http.StatusUnprocessableEntity && strings.Contains(lower, "validation") {
			status = http.StatusBadRequest
		}
		if len(errs) == 0 {
			return newAPIError(status, "", msg, nil)
		}
		return newAPIError(status, "", msg, map[string]any{"errors": errs})
	}
}

// handleError maps engine, repo and generator errors onto the envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		se  huma.StatusError
		fe  auth.ForbiddenError
		ve  engine.ValidationError
		gve *generator.ValidationError
	)
	switch {
	case errors.As(err, &se):
		return se
	case errors.As(err, &fe):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"resource": fe.Resource})
	case errors.As(err, &ve):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"field": ve.Field})
	case errors.As(err, &gve):
		fields := make(map[string]any, len(gve.Fields))
		for k, v := range gve.Fields {
			fields[k] = v
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"fields": fields})
	case errors.Is(err, repo.ErrAlreadyDecided):
		return newAPIError(http.StatusConflict, "already_decided", err.Error(), nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, generator.ErrNoCompleter):
		return newAPIError(http.StatusServiceUnavailable, "generator_unavailable", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

type rawBodyKey struct{}

// captureBody keeps a copy of the request body so handlers can tell an
// empty body from a zero-valued one.
func captureBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rawBodyKey{}, raw)))
	})
}

func bodyBytes(ctx context.Context) []byte {
	raw, _ := ctx.Value(rawBodyKey{}).([]byte)
	return raw
}
