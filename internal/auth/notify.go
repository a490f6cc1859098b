// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Link template placeholders.
const (
	PlaceholderID   = "{id}"
	PlaceholderCode = "{code}"
)

// Notification asks the recipient to follow Link to complete a token flow.
type Notification struct {
	Purpose   Purpose
	AccountID ulid.ULID
	Recipient string
	Link      string
}

// Subject returns the message subject for the notification purpose.
func (n Notification) Subject() string {
	return n.Purpose.Subject()
}

// Notifier delivers activation and password-reset links. Implementations
// must honor ctx cancellation.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Send implements Notifier.
func (f NotifierFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// ResolveLink substitutes the account ID and token code into template.
func ResolveLink(template string, accountID ulid.ULID, code string) string {
	return strings.NewReplacer(
		PlaceholderID, accountID.String(),
		PlaceholderCode, url.PathEscape(code),
	).Replace(template)
}
