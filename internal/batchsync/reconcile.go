package batchsync

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"slices"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"aldar.app/internal/lms"
)

const (
	msgProcessed       = "Processed successfully"
	msgNoMember        = "Member/email doesn't exist in Entertainer"
	msgInvalidConcept  = "Invalid concept id"
	msgUnknownPackage  = "Package doesn't exist in Entertainer Maintenance look up."
	msgUnknownOrder    = "Sales_order_id doesn't exist in Entertainer Sales Instalment Payments records."
	msgUnhandled       = "LMS api has sent an unhandled response"
	msgUnexpected      = "LMS api returned an unexpected response."
	tierBindingRetries = 5
)

type pacer interface {
	Wait(ctx context.Context) error
}

// newPacer spaces LMS submissions at least delay apart.
func newPacer(delay time.Duration) pacer {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func failed(id int64, msg string, at time.Time) RecordUpdate {
	return RecordUpdate{ID: id, Status: StatusError, Details: msg, UpdatedAt: at}
}

// candidates loads the pending rows of the batch and rejects the ones the LMS
// cannot take: unknown member, invalid concept, unknown maintenance package or
// unknown sales order.
func (s *Synchronizer) candidates(ctx context.Context, run *fileRun) ([]candidate, error) {
	recs, err := s.store.Records(ctx, run.name, run.batchID, true)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	concepts, err := s.store.ConceptIDs(ctx, run.dir.Asset)
	if err != nil {
		return nil, err
	}
	mappings, err := s.store.ConceptMappings(ctx, run.dir.Asset)
	if err != nil {
		return nil, err
	}
	var packages map[string]bool
	if run.dir.Kind == KindMaintenanceInstalments {
		if packages, err = s.store.PackageIDs(ctx); err != nil {
			return nil, err
		}
	}

	now := s.now()
	idKey, _ := conceptKeys(run.dir.Kind)
	var (
		ups []RecordUpdate
		out []candidate
	)
	for _, rec := range recs {
		user, err := s.store.LMSUserByEmail(ctx, rec.Email)
		if errors.Is(err, ErrNotFound) {
			ups = append(ups, failed(rec.ID, msgNoMember, now))
			continue
		}
		if err != nil {
			return nil, err
		}
		concept := rec.Fields[idKey]
		if mapped, ok := mappings[concept]; ok {
			concept = mapped
		}
		if !concepts[concept] {
			ups = append(ups, failed(rec.ID, msgInvalidConcept, now))
			continue
		}
		if packages != nil && !packages[rec.Fields["package_id"]] {
			ups = append(ups, failed(rec.ID, msgUnknownPackage, now))
			continue
		}
		out = append(out, candidate{rec: rec, user: user, conceptID: concept})
	}

	if run.dir.Kind == KindSalesCancellations && len(out) > 0 {
		orderIDs := make([]string, 0, len(out))
		for _, c := range out {
			orderIDs = append(orderIDs, c.rec.Fields["sales_order_id"])
		}
		values, err := s.store.SalesOrderNetValues(ctx, string(KindSalesInstalments), orderIDs)
		if err != nil {
			return nil, err
		}
		known := out[:0]
		for _, c := range out {
			v, ok := values[c.rec.Fields["sales_order_id"]]
			if !ok {
				ups = append(ups, failed(c.rec.ID, msgUnknownOrder, now))
				continue
			}
			c.propertyNetValue = &v
			known = append(known, c)
		}
		out = known
	}

	if len(ups) > 0 {
		if err := s.store.UpdateRecords(ctx, ups); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// fatalLMSError reports errors that abort the directory: cancellation and an
// LMS that keeps rejecting fresh tokens.
func fatalLMSError(ctx context.Context, err error) bool {
	return ctx.Err() != nil || lms.IsUnauthorized(err)
}

func (s *Synchronizer) earn(ctx context.Context, run *fileRun) error {
	cands, err := s.candidates(ctx, run)
	if err != nil || len(cands) == 0 {
		return err
	}
	client, err := s.lmsFor(run.dir.Name)
	if err != nil {
		return err
	}
	p := s.pace(s.opts.Delay)
	for start := 0; start < len(cands); start += s.opts.ChunkSize {
		chunk := cands[start:min(start+s.opts.ChunkSize, len(cands))]
		txs := make([]lms.EarnTransaction, 0, len(chunk))
		for _, c := range chunk {
			tx, err := earnTransaction(run.dir.Kind, c)
			if err != nil {
				return err
			}
			txs = append(txs, tx)
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
		res, err := client.Earn(ctx, txs)
		var ups []RecordUpdate
		if err != nil {
			if fatalLMSError(ctx, err) {
				return fmt.Errorf("earn: %w", err)
			}
			run.log.Error().Err(err).Msg("Error occurred while requesting an earn")
			now := s.now()
			for _, c := range chunk {
				ups = append(ups, RecordUpdate{ID: c.rec.ID, Status: StatusError, Details: msgUnexpected, APIResponse: "null", UpdatedAt: now})
			}
		} else {
			ups = s.earnOutcomes(ctx, run, chunk, res)
		}
		if err := s.store.UpdateRecords(ctx, ups); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) earnOutcomes(ctx context.Context, run *fileRun, chunk []candidate, res *lms.EarnResult) []RecordUpdate {
	now := s.now()
	apiResponse := "null"
	var body map[string]any
	if res != nil && res.Response != nil {
		if len(res.Response.Raw) > 0 {
			apiResponse = string(res.Response.Raw)
		}
		body = res.Response.Body
	}
	batch, _ := body["batch_earn"].(map[string]any)
	_, hasSuccess := batch["success"]
	_, hasFailed := batch["failed"]

	ups := make([]RecordUpdate, 0, len(chunk))
	for i, c := range chunk {
		up := RecordUpdate{ID: c.rec.ID, Status: StatusError, APIResponse: apiResponse, UpdatedAt: now}
		switch {
		case len(batch) == 0:
			up.Details = msgUnexpected
		case !hasSuccess && !hasFailed:
			up.Details = msgUnhandled
		default:
			var o lms.EarnTxOutcome
			if i < len(res.Outcomes) {
				o = res.Outcomes[i]
			}
			switch {
			case o.Success != nil:
				out := lms.EarnOutcomeFrom(o.Success, now)
				if out.TierUpdated {
					email, _ := o.Success["email"].(string)
					if email == "" {
						email = c.rec.Email
					}
					if err := s.updateTier(ctx, email, out.MemberTier); err != nil {
						run.log.Error().Err(err).Str("email", email).Msg("user tier update failed")
					}
				}
				up.Status = StatusProcessed
				up.Details = msgProcessed
				up.LMSTransactionID = out.TransactionID
				up.Points = out.PointsEarned
				up.EarnID = o.EarnID
				run.valid++
			case o.Failure != nil:
				msg, _ := o.Failure["message"].(string)
				up.Details = msg
			default:
				up.Details = msgUnhandled
			}
		}
		ups = append(ups, up)
	}
	return ups
}

func (s *Synchronizer) refund(ctx context.Context, run *fileRun) error {
	cands, err := s.candidates(ctx, run)
	if err != nil || len(cands) == 0 {
		return err
	}
	client, err := s.lmsFor(run.dir.Name)
	if err != nil {
		return err
	}
	p := s.pace(s.opts.Delay)
	for _, c := range cands {
		req, err := refundRequest(run.dir.Kind, c)
		if err != nil {
			return err
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
		res, err := client.Refund(ctx, req)
		var up RecordUpdate
		if err != nil {
			if fatalLMSError(ctx, err) {
				return fmt.Errorf("refund: %w", err)
			}
			run.log.Error().Err(err).Msg("Error occurred while requesting an refund")
			up = RecordUpdate{ID: c.rec.ID, Status: StatusError, Details: msgUnexpected, APIResponse: "null", UpdatedAt: s.now()}
		} else {
			up = s.refundOutcome(run, c, res)
		}
		if err := s.store.UpdateRecords(ctx, []RecordUpdate{up}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) refundOutcome(run *fileRun, c candidate, res *lms.RefundResult) RecordUpdate {
	up := RecordUpdate{ID: c.rec.ID, Status: StatusError, APIResponse: "null", UpdatedAt: s.now()}
	var body map[string]any
	if res != nil && res.Response != nil {
		if len(res.Response.Raw) > 0 {
			up.APIResponse = string(res.Response.Raw)
		}
		body = res.Response.Body
	}
	if body == nil {
		up.Details = msgUnexpected
		return up
	}
	if errs, _ := body["errors"].([]any); len(errs) > 0 {
		first, _ := json.Marshal(errs[0])
		up.Details = string(first)
		return up
	}
	if _, ok := body["refund"]; ok {
		up.Status = StatusProcessed
		up.Details = msgProcessed
		up.Points = toFloat(res.Refunded()["points"])
		up.RefundID = res.RefundID
		run.valid++
		return up
	}
	up.Details = msgUnhandled
	return up
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	}
	return 0
}

// updateTier grants the group named after the member's new tier, retires the
// previous bindings and forces every session of the customer to refresh.
func (s *Synchronizer) updateTier(ctx context.Context, email, tier string) error {
	company := s.opts.Company
	group, err := s.store.GroupByName(ctx, company, tier)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	user, err := s.store.LMSUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	active, err := s.store.ActiveGroups(ctx, company, user.CustomerID)
	if err != nil {
		return err
	}
	if slices.Contains(active, group) {
		return nil
	}

	now := s.now()
	var id int64
	for attempt := 1; ; attempt++ {
		id, err = s.store.BindGroup(ctx, GroupBinding{
			Company:     company,
			Key:         fmt.Sprintf("%s%d", company, 100000+s.randN(900000)),
			Email:       email,
			CustomerID:  user.CustomerID,
			UserGroup:   group,
			ActivatedAt: now,
		})
		if errors.Is(err, ErrConflict) && attempt < tierBindingRetries {
			continue
		}
		if err != nil {
			return fmt.Errorf("bind group: %w", err)
		}
		break
	}
	if err := s.store.DeactivateOtherGroups(ctx, company, user.CustomerID, id); err != nil {
		return err
	}
	return s.store.RefreshSessions(ctx, company, user.CustomerID, now)
}

// writeLog uploads logs/log_<file>: the configured columns plus status,
// points and message, with date columns shown as they arrived.
func (s *Synchronizer) writeLog(run *fileRun, recs []Record) error {
	header := append(slices.Clone(run.dir.Header), "status", "points", "message")
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return err
	}
	line := make([]string, len(header))
	for _, r := range recs {
		row := make(map[string]string, len(r.Fields)+3)
		for k, v := range r.Fields {
			row[k] = v
		}
		for _, dk := range run.dir.DateKeys {
			row[dk.To] = r.Fields[dk.From]
		}
		row["status"] = strconv.Itoa(int(r.Status))
		row["points"] = strconv.FormatFloat(r.Points, 'f', -1, 64)
		row["message"] = r.Details
		for i, col := range header {
			line[i] = row[col]
		}
		if err := w.Write(line); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	enc, err := s.crypter.Encrypt(buf.Bytes(), run.cfg.LogEncryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt log: %w", err)
	}
	remote := path.Join(run.dir.Name, logsDir, "log_"+run.name)
	if exists, err := s.remote.Exists(remote); err != nil {
		return err
	} else if exists {
		if err := s.remote.Remove(remote); err != nil {
			return err
		}
	}
	return s.remote.WriteFile(remote, enc)
}
