package notify

import (
	"context"
	"log/slog"
	"strings"
)

// DryRunMailer logs messages instead of sending them.
type DryRunMailer struct {
	logger *slog.Logger
}

// NewDryRunMailer logs to logger, or the default logger when nil.
func NewDryRunMailer(logger *slog.Logger) *DryRunMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunMailer{logger: logger}
}

func (m *DryRunMailer) Send(ctx context.Context, msg Message) error {
	rows := 0
	if msg.Table != nil {
		rows = len(msg.Table.Rows)
	}
	m.logger.InfoContext(ctx, "DRY RUN: email not sent.",
		"from", msg.From,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"link", msg.Link,
		"tableRows", rows,
		"attachments", len(msg.Attachments),
	)
	return nil
}
