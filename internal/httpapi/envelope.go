package httpapi

import (
	"net/http"

	"aldar.app/internal/apperr"
)

// Envelope decides the shape of response bodies. Mobile endpoints use
// Standard, partner callbacks use Callback.
type Envelope interface {
	// Success is the body of a handled request.
	Success(message string, data any) map[string]any
	// Failure is the body of a request that ended with e.
	Failure(e *apperr.Error) map[string]any
	// Seal adds the fields every answer carries, right before it is written.
	Seal(r *http.Request, body map[string]any, status int)
}

// Standard: {success, message, code, data, cmd, http_response}
type Standard struct{}

func (Standard) Success(message string, data any) map[string]any {
	body := map[string]any{"success": true, "message": message, "code": 0}
	if data != nil {
		body["data"] = data
	}
	return body
}

func (Standard) Failure(e *apperr.Error) map[string]any {
	return map[string]any{"success": false, "message": e.Message, "code": e.Code}
}

func (Standard) Seal(r *http.Request, body map[string]any, status int) {
	body["cmd"] = fullPath(r)
	body["http_response"] = status
	if _, ok := body["code"]; !ok {
		body["code"] = 0
	}
}

// Callback: {success, message, status_code, data, http_response}. status_code
// is -1 for authentication failures and 1 for bad requests.
type Callback struct{}

func (Callback) Success(message string, data any) map[string]any {
	return map[string]any{"success": true, "message": message, "status_code": 0, "data": data}
}

func (Callback) Failure(e *apperr.Error) map[string]any {
	body := map[string]any{"success": false, "message": e.Message}
	switch {
	case e.Status == http.StatusUnauthorized:
		body["status_code"] = -1
	case e.Kind == apperr.KindValidation:
		body["status_code"] = 1
	}
	return body
}

func (Callback) Seal(_ *http.Request, body map[string]any, status int) {
	body["http_response"] = status
	if empty(body["data"]) {
		body["data"] = map[string]any{}
	}
}

// fullPath is the path plus "?" and the raw query; the "?" is always present.
func fullPath(r *http.Request) string {
	return r.URL.Path + "?" + r.URL.RawQuery
}

func empty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case []map[string]any:
		return len(t) == 0
	case string:
		return t == ""
	case bool:
		return !t
	}
	return false
}
