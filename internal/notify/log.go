// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package notify

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// LogNotifier delivers notifications by logging them. The link carries a
// live token code, so the logger should only write somewhere operators
// are allowed to read.
type LogNotifier struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogNotifier returns a LogNotifier writing at info level. A nil logger
// uses slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, level: slog.LevelInfo}
}

// Send implements auth.Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg auth.Notification) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("NOTIFY_CANCELLED").With("purpose", msg.Purpose).Wrap(err)
	}
	if msg.Recipient == "" {
		return oops.Code("NOTIFY_NO_RECIPIENT").
			With("account_id", msg.AccountID.String()).
			Errorf("notification has no recipient")
	}
	n.logger.Log(ctx, n.level, "notification",
		"purpose", string(msg.Purpose),
		"subject", msg.Subject(),
		"account_id", msg.AccountID.String(),
		"recipient", msg.Recipient,
		"link", msg.Link)
	return nil
}

var _ auth.Notifier = (*LogNotifier)(nil)
