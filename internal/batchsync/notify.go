package batchsync

import (
	"context"
	"fmt"
	"strings"
)

// phpSerialize encodes ordered string pairs as a PHP associative array, the
// format the mailer reads from ent_send_emails.optional_data.
func phpSerialize(pairs [][2]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "a:%d:{", len(pairs))
	for _, p := range pairs {
		fmt.Fprintf(&b, "s:%d:\"%s\";s:%d:\"%s\";", len(p[0]), p[0], len(p[1]), p[1])
	}
	b.WriteString("}")
	return b.String()
}

// notify queues one email per configured recipient about a handled file.
func (s *Synchronizer) notify(ctx context.Context, run *fileRun, ok bool, detail string) {
	if !run.cfg.EmailNotificationEnabled || len(run.cfg.EmailRecipients) == 0 {
		return
	}
	data := [][2]string{{"{FILE_NAME}", run.dir.Name + " - " + run.name}}
	template := s.opts.SuccessTemplate
	if !ok {
		template = s.opts.FailureTemplate
		data = append(data, [2]string{"{ERROR_DETAIL}", detail})
	}
	optional := phpSerialize(data)
	for _, to := range run.cfg.EmailRecipients {
		err := s.store.QueueEmail(ctx, Email{
			To:           to,
			TemplateID:   template,
			OptionalData: optional,
			Language:     "en",
			Priority:     priorityHigh,
			CreatedAt:    s.now(),
		})
		if err != nil {
			run.log.Error().Err(err).Str("email_to", to).Msg("queue file status email")
		}
	}
}
