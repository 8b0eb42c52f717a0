package pg

import (
	"context"

	"aldar.app/internal/errlog"
)

func (s *Store) RecordError(ctx context.Context, e errlog.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into api_error_logs
			(company, consumer_ip, endpoint, method, request_body, request_headers, response_body, http_error_code, error_message, date_created)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.Company, e.ConsumerIP, e.Endpoint, e.Method, e.RequestBody, e.RequestHeaders, e.ResponseBody, e.HTTPErrorCode, e.ErrorMessage, s.now().UTC())
	return err
}

// RecordIncoming stores a request of a partner callback.
func (s *Store) RecordIncoming(ctx context.Context, e errlog.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		insert into incoming_api_logs (company, consumer_ip, endpoint, method, request_body, request_headers, date_created)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.Company, e.ConsumerIP, e.Endpoint, e.Method, e.RequestBody, e.RequestHeaders, s.now().UTC())
	return err
}
