// Package errlog describes rows of the api_error_logs table. The pipeline, the
// LMS client and the token cache all write there on a best-effort basis.
package errlog

import (
	"context"
	"encoding/json"

	"aldar.app/internal/obs"
)

// Entry is one failed request or outbound call.
type Entry struct {
	Company        string
	ConsumerIP     string
	Endpoint       string
	Method         string
	RequestBody    string
	RequestHeaders string
	ResponseBody   string
	HTTPErrorCode  int
	ErrorMessage   string
}

// Recorder persists entries.
type Recorder interface {
	RecordError(ctx context.Context, e Entry) error
}

// Record writes e through r. Failures are logged and swallowed.
func Record(ctx context.Context, r Recorder, e Entry) {
	if r == nil {
		return
	}
	if err := r.RecordError(ctx, e); err != nil {
		obs.Logger().Error().Err(err).Str("endpoint", e.Endpoint).Msg("api error log write failed")
	}
}

// JSON renders v for a text column; marshal failures yield "".
func JSON(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
