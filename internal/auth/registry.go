// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gatekeeper/pkg/errutil"
)

const tracerName = "github.com/holomush/gatekeeper/internal/auth"

// ActivationMode selects whether a registration needs activation.
type ActivationMode int

// Activation modes.
const (
	// ActivationDefault defers to Config.RequireActivation.
	ActivationDefault ActivationMode = iota
	ActivationRequired
	ActivationSkipped
)

func (m ActivationMode) required(def bool) bool {
	switch m {
	case ActivationRequired:
		return true
	case ActivationSkipped:
		return false
	default:
		return def
	}
}

// RegisterRequest holds the inputs for Registry.Register.
type RegisterRequest struct {
	Login    string
	Password string
	Roles    []string
	// Activation decides whether the account starts pending.
	Activation ActivationMode
	// LinkTemplate is the activation URL with {id} and {code} placeholders.
	// Required when activation applies.
	LinkTemplate string
	// UserAgent and Origin describe the client for the auto-login session.
	UserAgent string
	Origin    string
}

// Registration is the outcome of Registry.Register.
type Registration struct {
	Account *Account
	// Session and SessionToken are set when auto-login succeeded.
	Session      *Session
	SessionToken string
}

// LoginRequest holds the inputs for Registry.Login.
type LoginRequest struct {
	Login      string
	Password   string
	RememberMe bool
	UserAgent  string
	Origin     string
}

// SweepResult counts records removed by Registry.Sweep.
type SweepResult struct {
	Tokens   int64
	Sessions int64
	Throttle int64
}

// RegistryDeps are the collaborators a Registry needs.
type RegistryDeps struct {
	Accounts AccountRepository
	Sessions SessionRepository
	Tokens   *TokenStore
	Throttle *ThrottleGuard
	Hasher   PasswordHasher
	Notifier Notifier
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock sets the time source. Defaults to time.Now.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// Registry owns accounts and orchestrates the registration, login,
// activation and password workflows. It is safe for concurrent use.
type Registry struct {
	accounts  AccountRepository
	sessions  SessionRepository
	tokens    *TokenStore
	throttle  *ThrottleGuard
	hasher    PasswordHasher
	notifier  Notifier
	cfg       Config
	logger    *slog.Logger
	clock     Clock
	tracer    trace.Tracer
	dummyHash string
}

// NewRegistry creates a Registry.
func NewRegistry(deps RegistryDeps, cfg Config, opts ...RegistryOption) (*Registry, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Errorf("account repository is required")
	case deps.Sessions == nil:
		return nil, oops.Errorf("session repository is required")
	case deps.Tokens == nil:
		return nil, oops.Errorf("token store is required")
	case deps.Throttle == nil:
		return nil, oops.Errorf("throttle guard is required")
	case deps.Hasher == nil:
		return nil, oops.Errorf("password hasher is required")
	case deps.Notifier == nil:
		return nil, oops.Errorf("notifier is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		tokens:   deps.Tokens,
		throttle: deps.Throttle,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}

	// Unknown logins are verified against this hash so they cost the same
	// as a wrong password. It is produced by the configured hasher so its
	// parameters match real hashes.
	secret := make([]byte, 16)
	if _, err := rand.Read(secret); err != nil {
		return nil, oops.Code("AUTH_DUMMY_HASH_FAILED").Wrap(err)
	}
	dummy, err := r.hasher.Hash(hex.EncodeToString(secret))
	if err != nil {
		return nil, oops.Code("AUTH_DUMMY_HASH_FAILED").Wrap(err)
	}
	r.dummyHash = dummy

	return r, nil
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Register creates an account. When activation applies the account starts
// pending and an activation link is sent; otherwise it starts active and,
// if configured, a session is established best-effort.
//
// A notification failure returns the committed Registration together with
// an error wrapping ErrNotificationFailed.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (reg *Registration, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.Register")
	defer func() { endSpan(span, err) }()

	requireActivation := req.Activation.required(r.cfg.RequireActivation)
	login, err := ValidateLogin(req.Login)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "password cannot be empty")
	}
	if requireActivation && strings.TrimSpace(req.LinkTemplate) == "" {
		return nil, oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "activation link template is required")
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.accounts.GetByLogin(opCtx, login); err == nil {
		return nil, duplicateAccount()
	} else if !errors.Is(err, ErrNotFound) {
		return nil, r.fail("register: check login", err)
	}

	hash, err := r.hasher.Hash(req.Password)
	if err != nil {
		return nil, r.fail("register: hash password", err)
	}

	roles, skipped := r.cfg.Roles.Filter(req.Roles)
	if len(skipped) > 0 {
		r.logger.DebugContext(ctx, "skipping unknown roles", "roles", skipped)
	}

	status := StatusActive
	if requireActivation {
		status = StatusPending
	}
	account, err := NewAccount(login, hash, roles, status, r.clock.now())
	if err != nil {
		return nil, err
	}
	if err := r.accounts.Create(opCtx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, duplicateAccount()
		}
		return nil, r.fail("register: create account", err)
	}

	Registrations.WithLabelValues(activationLabel(requireActivation)).Inc()
	span.SetAttributes(attribute.String("account.id", account.ID.String()))
	r.logger.InfoContext(ctx, "account registered",
		"account_id", account.ID.String(),
		"activation_required", requireActivation,
	)

	reg = &Registration{Account: account}

	if requireActivation {
		token, err := r.tokens.Issue(opCtx, account.ID, PurposeActivation, r.cfg.ActivationTTL)
		if err != nil {
			return reg, r.fail("register: issue activation token", err)
		}
		if err := r.notify(ctx, account, token, req.LinkTemplate); err != nil {
			r.logger.WarnContext(ctx, "activation notification failed",
				"account_id", account.ID.String(),
				"error", err,
			)
			return reg, err
		}
		return reg, nil
	}

	if r.cfg.AutoLogin {
		session, sessionToken, loginErr := r.Login(ctx, LoginRequest{
			Login:     req.Login,
			Password:  req.Password,
			UserAgent: req.UserAgent,
			Origin:    req.Origin,
		})
		if loginErr != nil {
			r.logger.WarnContext(ctx, "auto-login after registration failed",
				"account_id", account.ID.String(),
				"error", loginErr,
			)
		} else {
			reg.Session = session
			reg.SessionToken = sessionToken
		}
	}

	return reg, nil
}

// Authenticate verifies a login and password. Unknown logins and wrong
// passwords both return ErrAccountNotFound and both count as failures.
func (r *Registry) Authenticate(ctx context.Context, login, password string) (account *Account, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.Authenticate")
	defer func() { endSpan(span, err) }()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.authenticate(opCtx, login, password, "")
}

func (r *Registry) authenticate(ctx context.Context, login, password, origin string) (*Account, error) {
	started := time.Now()
	keys := r.throttleKeys(login, origin)

	if err := r.checkThrottle(ctx, keys); err != nil {
		recordAuthentication(throttleResult(err), started)
		return nil, err
	}

	var account *Account
	target := r.dummyHash
	if normalized := NormalizeLogin(login); normalized != "" {
		found, err := r.accounts.GetByLogin(ctx, normalized)
		switch {
		case err == nil:
			account = found
			target = found.PasswordHash
		case !errors.Is(err, ErrNotFound):
			recordAuthentication(ResultError, started)
			return nil, r.fail("authenticate: get account", err)
		}
	}

	valid, verifyErr := r.hasher.Verify(password, target)
	if verifyErr != nil {
		if account != nil {
			errutil.LogError(r.logger, "stored password hash is unreadable", oops.
				With("account_id", account.ID.String()).
				Wrap(verifyErr))
		}
		valid = false
	}

	if account == nil || !valid {
		cooling := false
		for _, key := range keys {
			already, err := r.throttle.RecordFailureUnlessCooling(ctx, key)
			if err != nil {
				recordAuthentication(ResultError, started)
				return nil, r.fail("authenticate: record failure", err)
			}
			cooling = cooling || already
		}
		if cooling {
			// A concurrent attempt started the cool-down while this one was
			// verifying; answer as if it had arrived after.
			recordAuthentication(ResultThrottled, started)
			return nil, throttled(0)
		}
		recordAuthentication(ResultInvalid, started)
		return nil, oops.Code(CodeAccountNotFound).Wrap(ErrAccountNotFound)
	}

	// Failures racing this attempt may have started a cool-down after the
	// first check. A correct guess must not slip through it.
	if err := r.checkThrottle(ctx, keys); err != nil {
		recordAuthentication(throttleResult(err), started)
		return nil, err
	}

	if !account.IsActive() {
		recordAuthentication(ResultNotActivated, started)
		return nil, oops.Code(CodeAccountNotActivated).
			With("account_id", account.ID.String()).
			Wrap(ErrAccountNotActivated)
	}

	for _, key := range keys {
		if err := r.throttle.RecordSuccess(ctx, key); err != nil {
			recordAuthentication(ResultError, started)
			return nil, r.fail("authenticate: reset throttle", err)
		}
	}

	if r.hasher.NeedsUpgrade(account.PasswordHash) {
		r.upgradeHash(ctx, account, password)
	}

	recordAuthentication(ResultSuccess, started)
	return account, nil
}

// checkThrottle fails with ErrThrottled if any key is cooling down.
func (r *Registry) checkThrottle(ctx context.Context, keys []string) error {
	for _, key := range keys {
		remaining, err := r.throttle.Remaining(ctx, key)
		if err != nil {
			return r.fail("authenticate: check throttle", err)
		}
		if remaining > 0 {
			return throttled(remaining)
		}
	}
	return nil
}

func throttleResult(err error) string {
	if KindOf(err) == KindThrottled {
		return ResultThrottled
	}
	return ResultError
}

func throttled(remaining time.Duration) error {
	builder := oops.Code(CodeThrottled)
	if remaining > 0 {
		builder = builder.With("retry_after", remaining.Round(time.Second).String())
	}
	return builder.Wrap(ErrThrottled)
}

// upgradeHash rehashes the password with current parameters. Failures are
// logged and do not affect the login.
func (r *Registry) upgradeHash(ctx context.Context, account *Account, password string) {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		r.logger.WarnContext(ctx, "password rehash failed", "account_id", account.ID.String(), "error", err)
		return
	}
	// Conditional so a concurrent password change is never reverted.
	if err := r.accounts.ReplacePassword(ctx, account.ID, account.PasswordHash, hash, r.clock.now()); err != nil {
		r.logger.WarnContext(ctx, "password rehash not stored", "account_id", account.ID.String(), "error", err)
		return
	}
	account.PasswordHash = hash
}

// Login authenticates and establishes a session. It returns the session
// and the plaintext session token. RememberMe is honored only when the
// configuration allows it.
func (r *Registry) Login(ctx context.Context, req LoginRequest) (session *Session, token string, err error) {
	ctx, span := r.tracer.Start(ctx, "auth.Login")
	defer func() { endSpan(span, err) }()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.authenticate(opCtx, req.Login, req.Password, req.Origin)
	if err != nil {
		return nil, "", err
	}

	rememberMe := req.RememberMe && r.cfg.AllowRememberMe
	ttl := r.cfg.SessionTTL
	if rememberMe {
		ttl = r.cfg.RememberMeTTL
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", r.fail("login: generate session token", err)
	}
	now := r.clock.now()
	session, err = NewSession(account.ID, tokenHash, rememberMe, req.UserAgent, req.Origin, now, now.Add(ttl))
	if err != nil {
		return nil, "", r.fail("login: build session", err)
	}
	if err := r.sessions.Create(opCtx, session); err != nil {
		return nil, "", r.fail("login: create session", err)
	}

	r.logger.InfoContext(ctx, "session established",
		"account_id", account.ID.String(),
		"session_id", session.ID.String(),
		"remember_me", rememberMe,
	)
	return session, token, nil
}

// Logout ends a session. Ending a session that no longer exists succeeds.
func (r *Registry) Logout(ctx context.Context, sessionID ulid.ULID) error {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.sessions.Delete(opCtx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return r.fail("logout: delete session", err)
	}
	return nil
}

// ValidateSession returns the live session for a plaintext session token
// and refreshes its last-seen time best-effort.
func (r *Registry) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	session, err := r.sessions.GetByTokenHash(opCtx, HashSessionToken(token))
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeSessionInvalid).Wrap(ErrSessionInvalid)
	}
	if err != nil {
		return nil, r.fail("validate session: get session", err)
	}

	now := r.clock.now()
	if session.IsExpiredAt(now) {
		return nil, oops.Code(CodeSessionInvalid).With("session_id", session.ID.String()).Wrap(ErrSessionInvalid)
	}

	if err := r.sessions.UpdateLastSeen(opCtx, session.ID, now); err != nil {
		r.logger.DebugContext(ctx, "session last-seen update failed", "session_id", session.ID.String(), "error", err)
	} else {
		session.LastSeenAt = now
	}
	return session, nil
}

// ChangePassword replaces the password after verifying the current one.
// The new password must differ from the old one.
func (r *Registry) ChangePassword(ctx context.Context, accountID ulid.ULID, oldPassword, newPassword string) (err error) {
	ctx, span := r.tracer.Start(ctx, "auth.ChangePassword")
	defer func() { endSpan(span, err) }()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.loadAccount(opCtx, accountID, "change password")
	if err != nil {
		return err
	}

	valid, err := r.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return r.fail("change password: verify", err)
	}
	if !valid {
		return oops.Code(CodeInvalidCredential).
			With("account_id", accountID.String()).
			Wrapf(ErrInvalidCredential, "current password is incorrect")
	}
	if newPassword == oldPassword {
		return oops.Code(CodeInvalidCredential).
			With("account_id", accountID.String()).
			Wrapf(ErrInvalidCredential, "new password must differ from the current one")
	}

	err = r.replacePassword(opCtx, account, newPassword, "change password")
	if errors.Is(err, ErrConflict) {
		// Someone else changed the password after we verified the old one.
		return oops.Code(CodeInvalidCredential).
			With("account_id", accountID.String()).
			Wrapf(ErrInvalidCredential, "current password is incorrect")
	}
	return err
}

// IssueActivationToken returns the live activation token for a pending
// account, minting one if none exists.
func (r *Registry) IssueActivationToken(ctx context.Context, accountID ulid.ULID) (*Token, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.loadAccount(opCtx, accountID, "issue activation token")
	if err != nil {
		return nil, err
	}
	if account.IsActive() {
		return nil, alreadyActivated(accountID)
	}
	token, err := r.tokens.Issue(opCtx, accountID, PurposeActivation, r.cfg.ActivationTTL)
	if err != nil {
		return nil, r.fail("issue activation token", err)
	}
	return token, nil
}

// Activate consumes an activation code and moves the account to active.
// An account that is already active fails with ErrAlreadyActivated. A code
// that is unknown, expired or already consumed fails with ErrTokenInvalid.
func (r *Registry) Activate(ctx context.Context, accountID ulid.ULID, code string) (err error) {
	ctx, span := r.tracer.Start(ctx, "auth.Activate")
	defer func() { endSpan(span, err) }()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.accounts.GetByID(opCtx, accountID)
	if errors.Is(err, ErrNotFound) {
		return tokenInvalid(accountID, PurposeActivation)
	}
	if err != nil {
		return r.fail("activate: get account", err)
	}
	if account.IsActive() {
		return alreadyActivated(accountID)
	}

	token, err := r.tokens.Find(opCtx, accountID, PurposeActivation, code)
	if err != nil {
		return r.fail("activate: find token", err)
	}
	if err := r.tokens.Consume(opCtx, token); err != nil {
		return r.fail("activate: consume token", err)
	}
	if err := r.accounts.Activate(opCtx, accountID, r.clock.now()); err != nil {
		if errors.Is(err, ErrConflict) {
			return alreadyActivated(accountID)
		}
		r.releaseToken(ctx, token)
		return r.fail("activate: update account", err)
	}

	r.logger.InfoContext(ctx, "account activated", "account_id", accountID.String())
	return nil
}

// IssuePasswordResetToken returns the live reset token for the account,
// minting one if none exists.
func (r *Registry) IssuePasswordResetToken(ctx context.Context, accountID ulid.ULID) (*Token, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.loadAccount(opCtx, accountID, "issue password reset token"); err != nil {
		return nil, err
	}
	token, err := r.tokens.Issue(opCtx, accountID, PurposePasswordReset, r.cfg.ResetTTL)
	if err != nil {
		return nil, r.fail("issue password reset token", err)
	}
	return token, nil
}

// CheckPasswordResetToken reports whether code is a live reset code for
// the account, without consuming it.
func (r *Registry) CheckPasswordResetToken(ctx context.Context, accountID ulid.ULID, code string) error {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.accounts.GetByID(opCtx, accountID); errors.Is(err, ErrNotFound) {
		return tokenInvalid(accountID, PurposePasswordReset)
	} else if err != nil {
		return r.fail("check reset token: get account", err)
	}
	if _, err := r.tokens.Find(opCtx, accountID, PurposePasswordReset, code); err != nil {
		return r.fail("check reset token: find token", err)
	}
	return nil
}

// ResetPassword consumes a reset code and replaces the password. The new
// password must differ from the current one.
func (r *Registry) ResetPassword(ctx context.Context, accountID ulid.ULID, code, newPassword string) (err error) {
	ctx, span := r.tracer.Start(ctx, "auth.ResetPassword")
	defer func() { endSpan(span, err) }()

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.accounts.GetByID(opCtx, accountID)
	if errors.Is(err, ErrNotFound) {
		return tokenInvalid(accountID, PurposePasswordReset)
	}
	if err != nil {
		return r.fail("reset password: get account", err)
	}

	token, err := r.tokens.Find(opCtx, accountID, PurposePasswordReset, code)
	if err != nil {
		return r.fail("reset password: find token", err)
	}

	same, err := r.hasher.Verify(newPassword, account.PasswordHash)
	if err != nil {
		return r.fail("reset password: verify", err)
	}
	if same {
		return oops.Code(CodeInvalidCredential).
			With("account_id", accountID.String()).
			Wrapf(ErrInvalidCredential, "new password must differ from the current one")
	}
	if newPassword == "" {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "password cannot be empty")
	}
	hash, err := r.hasher.Hash(newPassword)
	if err != nil {
		return r.fail("reset password: hash password", err)
	}

	if err := r.tokens.Consume(opCtx, token); err != nil {
		return r.fail("reset password: consume token", err)
	}
	if err := r.accounts.UpdatePassword(opCtx, accountID, hash, r.clock.now()); err != nil {
		r.releaseToken(ctx, token)
		return r.fail("reset password: update password", err)
	}

	// Whoever held the old password may still hold a session.
	if n, err := r.sessions.DeleteByAccount(opCtx, accountID); err != nil {
		r.logger.WarnContext(ctx, "ending sessions after password reset failed",
			"account_id", accountID.String(),
			"error", err,
		)
	} else if n > 0 {
		r.logger.InfoContext(ctx, "ended sessions after password reset", "account_id", accountID.String(), "sessions", n)
	}

	r.logger.InfoContext(ctx, "password reset", "account_id", accountID.String())
	return nil
}

// RequestPasswordReset sends a reset link to login if such an account
// exists. The result is the same whether or not it exists and whether or
// not the notification went out; only storage failures are returned.
func (r *Registry) RequestPasswordReset(ctx context.Context, login, linkTemplate string) (err error) {
	ctx, span := r.tracer.Start(ctx, "auth.RequestPasswordReset")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(linkTemplate) == "" {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "reset link template is required")
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.accounts.GetByLogin(opCtx, NormalizeLogin(login))
	if errors.Is(err, ErrNotFound) {
		r.logger.DebugContext(ctx, "password reset requested for unknown login")
		return nil
	}
	if err != nil {
		return r.fail("request password reset: get account", err)
	}

	token, err := r.tokens.Issue(opCtx, account.ID, PurposePasswordReset, r.cfg.ResetTTL)
	if err != nil {
		return r.fail("request password reset: issue token", err)
	}
	if err := r.notify(ctx, account, token, linkTemplate); err != nil {
		r.logger.WarnContext(ctx, "password reset notification failed",
			"account_id", account.ID.String(),
			"error", err,
		)
	}
	return nil
}

// SendActivation re-sends the activation link to login if a pending
// account exists. Like RequestPasswordReset it reports success for unknown
// logins, active accounts and failed notifications.
func (r *Registry) SendActivation(ctx context.Context, login, linkTemplate string) (err error) {
	ctx, span := r.tracer.Start(ctx, "auth.SendActivation")
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(linkTemplate) == "" {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "activation link template is required")
	}

	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.accounts.GetByLogin(opCtx, NormalizeLogin(login))
	if errors.Is(err, ErrNotFound) {
		r.logger.DebugContext(ctx, "activation requested for unknown login")
		return nil
	}
	if err != nil {
		return r.fail("send activation: get account", err)
	}
	if account.IsActive() {
		r.logger.DebugContext(ctx, "activation requested for active account", "account_id", account.ID.String())
		return nil
	}

	token, err := r.tokens.Issue(opCtx, account.ID, PurposeActivation, r.cfg.ActivationTTL)
	if err != nil {
		return r.fail("send activation: issue token", err)
	}
	if err := r.notify(ctx, account, token, linkTemplate); err != nil {
		r.logger.WarnContext(ctx, "activation notification failed",
			"account_id", account.ID.String(),
			"error", err,
		)
	}
	return nil
}

// FindByID returns the account with the given ID.
func (r *Registry) FindByID(ctx context.Context, id ulid.ULID) (*Account, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.loadAccount(opCtx, id, "find account")
}

// FindByLogin returns the account with the given login.
func (r *Registry) FindByLogin(ctx context.Context, login string) (*Account, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	account, err := r.accounts.GetByLogin(opCtx, NormalizeLogin(login))
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeAccountNotFound).Wrap(ErrAccountNotFound)
	}
	if err != nil {
		return nil, r.fail("find account by login", err)
	}
	return account, nil
}

// Sweep removes expired tokens, expired sessions and idle throttle
// records. It keeps going after a failure and returns the first error.
func (r *Registry) Sweep(ctx context.Context) (SweepResult, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	var result SweepResult
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	n, err := r.tokens.Sweep(opCtx)
	keep(err)
	result.Tokens = n

	n, err = r.sessions.DeleteExpired(opCtx, r.clock.now())
	if err != nil {
		keep(transient("sweep sessions", err))
	}
	result.Sessions = n

	n, err = r.throttle.Sweep(opCtx)
	keep(err)
	result.Throttle = n

	SweptRecords.WithLabelValues("token").Add(float64(result.Tokens))
	SweptRecords.WithLabelValues("session").Add(float64(result.Sessions))
	SweptRecords.WithLabelValues("throttle").Add(float64(result.Throttle))

	if firstErr != nil {
		errutil.LogError(r.logger, "sweep failed", firstErr)
	}
	return result, firstErr
}

func (r *Registry) notify(ctx context.Context, account *Account, token *Token, template string) error {
	n := Notification{
		Purpose:   token.Purpose,
		AccountID: account.ID,
		Recipient: account.Login,
		Link:      ResolveLink(template, account.ID, token.Code),
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.cfg.NotifyTimeout)
	defer cancel()

	if err := r.notifier.Send(sendCtx, n); err != nil {
		Notifications.WithLabelValues(string(n.Purpose), "failed").Inc()
		return oops.Code(CodeNotificationFailed).
			With("account_id", account.ID.String()).
			With("purpose", n.Purpose).
			Wrap(errors.Join(ErrNotificationFailed, err))
	}
	Notifications.WithLabelValues(string(n.Purpose), "sent").Inc()
	return nil
}

// replacePassword stores a hash of password in place of the hash account
// was loaded with. It returns an error wrapping ErrConflict if the stored
// hash changed since.
func (r *Registry) replacePassword(ctx context.Context, account *Account, password, operation string) error {
	if password == "" {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "password cannot be empty")
	}
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return r.fail(operation+": hash password", err)
	}
	err = r.accounts.ReplacePassword(ctx, account.ID, account.PasswordHash, hash, r.clock.now())
	switch {
	case err == nil:
		account.PasswordHash = hash
		return nil
	case errors.Is(err, ErrNotFound):
		return oops.Code(CodeAccountNotFound).With("account_id", account.ID.String()).Wrap(ErrAccountNotFound)
	case errors.Is(err, ErrConflict):
		return err
	default:
		return r.fail(operation+": update password", err)
	}
}

// releaseToken puts back a token whose consuming write failed so the same
// code works on retry. It runs detached from ctx because that write often
// failed on a deadline.
func (r *Registry) releaseToken(ctx context.Context, token *Token) {
	releaseCtx, cancel := r.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	if err := r.tokens.Release(releaseCtx, token); err != nil {
		errutil.LogErrorContext(ctx, r.logger, "token release failed", oops.
			With("account_id", token.AccountID.String()).
			With("purpose", token.Purpose).
			Wrap(err))
	}
}

func (r *Registry) loadAccount(ctx context.Context, id ulid.ULID, operation string) (*Account, error) {
	account, err := r.accounts.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeAccountNotFound).With("account_id", id.String()).Wrap(ErrAccountNotFound)
	}
	if err != nil {
		return nil, r.fail(operation+": get account", err)
	}
	return account, nil
}

func (r *Registry) throttleKeys(login, origin string) []string {
	keys := []string{LoginThrottleKey(login)}
	if r.cfg.Throttle.PerOrigin && origin != "" {
		keys = append(keys, OriginThrottleKey(origin))
	}
	return keys
}

func (r *Registry) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.OperationTimeout)
}

// fail passes business outcomes through unchanged. Anything else is
// classified as transient and logged.
func (r *Registry) fail(operation string, err error) error {
	if IsBusinessOutcome(err) {
		return err
	}
	if KindOf(err) != KindTransient {
		err = transient(operation, err)
	}
	errutil.LogError(r.logger, operation+" failed", err)
	return err
}

func duplicateAccount() error {
	return oops.Code(CodeDuplicateAccount).Wrap(ErrDuplicateAccount)
}

func alreadyActivated(accountID ulid.ULID) error {
	return oops.Code(CodeAlreadyActivated).With("account_id", accountID.String()).Wrap(ErrAlreadyActivated)
}

func activationLabel(required bool) string {
	if required {
		return "required"
	}
	return "skipped"
}

func endSpan(span trace.Span, err error) {
	if err != nil && !IsBusinessOutcome(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
