package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"
)

// Notifier delivers password reset links to users.
type Notifier interface {
	SendPasswordReset(ctx context.Context, email, resetURL string, expiresAt time.Time) error
}

// Session is the result of a successful login or refresh.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             UserView
}

// GatewayDeps are the collaborators a Gateway orchestrates.
type GatewayDeps struct {
	Directory UserDirectory
	Hasher    PasswordHasher
	Codec     *TokenCodec
	Resolver  *PermissionResolver
	Verifier  *CredentialVerifier
	Refresh   *RefreshTokenLedger
	Resets    *PasswordResetLedger
	Notifier  Notifier
}

// GatewayOption configures Gateway behavior.
type GatewayOption func(*Gateway) error

// WithResetURLBase sets the frontend origin used to build reset links.
func WithResetURLBase(base string) GatewayOption {
	return func(g *Gateway) error {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			return nil
		}
		if _, err := url.Parse(base); err != nil {
			return oops.Code(CodeConfiguration).Wrap(errors.Join(ErrConfiguration, err))
		}
		g.resetURLBase = base
		return nil
	}
}

// WithPasswordUpdater enables rehashing of legacy password hashes on login.
func WithPasswordUpdater(u PasswordUpdater) GatewayOption {
	return func(g *Gateway) error {
		g.passwords = u
		return nil
	}
}

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) error {
		if r != nil {
			g.recorder = r
		}
		return nil
	}
}

// Gateway orchestrates the login, refresh, logout and password reset flows.
type Gateway struct {
	directory UserDirectory
	hasher    PasswordHasher
	codec     *TokenCodec
	resolver  *PermissionResolver
	verifier  *CredentialVerifier
	refresh   *RefreshTokenLedger
	resets    *PasswordResetLedger
	notifier  Notifier
	passwords PasswordUpdater

	resetURLBase string
	logger       *slog.Logger
	recorder     Recorder
}

// NewGateway constructs a Gateway from explicit collaborators.
func NewGateway(deps GatewayDeps, opts ...GatewayOption) (*Gateway, error) {
	if deps.Directory == nil || deps.Hasher == nil || deps.Codec == nil || deps.Resolver == nil ||
		deps.Verifier == nil || deps.Refresh == nil || deps.Resets == nil || deps.Notifier == nil {
		return nil, oops.Code(CodeConfiguration).Wrap(errors.Join(ErrConfiguration, errors.New("gateway dependency missing")))
	}
	g := &Gateway{
		directory:    deps.Directory,
		hasher:       deps.Hasher,
		codec:        deps.Codec,
		resolver:     deps.Resolver,
		verifier:     deps.Verifier,
		refresh:      deps.Refresh,
		resets:       deps.Resets,
		notifier:     deps.Notifier,
		resetURLBase: "http://localhost:3000",
		logger:       slog.Default(),
		recorder:     nopRecorder{},
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Login authenticates credentials and opens a session. On failure no token
// is signed and no refresh record is written.
func (g *Gateway) Login(ctx context.Context, email, password string) (*Session, error) {
	sess, err := g.login(ctx, email, password)
	g.recorder.Outcome(FlowLogin, outcomeOf(err))
	return sess, err
}

func (g *Gateway) login(ctx context.Context, email, password string) (*Session, error) {
	user, err := g.verifier.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	g.upgradeHash(ctx, user, password)
	return g.openSession(ctx, user, nil)
}

// Refresh exchanges a refresh token for a new access/refresh pair. The old
// token is revoked in the same transaction that stores its successor.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	sess, err := g.rotate(ctx, refreshToken)
	g.recorder.Outcome(FlowRefresh, outcomeOf(err))
	return sess, err
}

func (g *Gateway) rotate(ctx context.Context, refreshToken string) (*Session, error) {
	rec, err := g.refresh.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := g.directory.FindUserByID(ctx, rec.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalidRefreshToken("user missing")
	}
	if err != nil {
		return nil, oops.Code("REFRESH_USER_LOOKUP_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	if !user.IsActive {
		return nil, invalidRefreshToken("user inactive")
	}
	return g.openSession(ctx, user, rec)
}

// Logout revokes refreshToken. It never fails for unknown tokens.
func (g *Gateway) Logout(ctx context.Context, refreshToken string) error {
	err := g.refresh.Revoke(ctx, refreshToken)
	g.recorder.Outcome(FlowLogout, outcomeOf(err))
	return err
}

// RequestReset starts the password reset flow for email. Unknown and
// inactive accounts succeed without side effects, and delivery failures are
// logged rather than returned, so callers cannot tell accounts apart.
func (g *Gateway) RequestReset(ctx context.Context, email string) error {
	err := g.requestReset(ctx, email)
	g.recorder.Outcome(FlowResetRequest, outcomeOf(err))
	return err
}

func (g *Gateway) requestReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}
	user, err := g.directory.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "find user").Wrap(err)
	}
	if !user.IsActive {
		return nil
	}

	issued, err := g.resets.Issue(ctx, user.ID)
	if err != nil {
		return oops.Code("RESET_REQUEST_FAILED").With("operation", "issue token").Wrap(err)
	}
	if err := g.notifier.SendPasswordReset(ctx, user.Email, g.resetLink(issued.Token), issued.ExpiresAt); err != nil {
		g.logger.ErrorContext(ctx, "password reset notification failed",
			"user_id", user.ID,
			"error", err,
		)
	}
	return nil
}

// ResetPassword consumes a reset token and sets a new password. The token
// stays valid when the new password is rejected by the policy.
func (g *Gateway) ResetPassword(ctx context.Context, token, newPassword string) error {
	err := g.resetPassword(ctx, token, newPassword)
	g.recorder.Outcome(FlowReset, outcomeOf(err))
	return err
}

func (g *Gateway) resetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	rec, err := g.resets.Check(ctx, token)
	if err != nil {
		return err
	}
	user, err := g.directory.FindUserByID(ctx, rec.UserID)
	if errors.Is(err, ErrNotFound) {
		return invalidResetToken("user missing")
	}
	if err != nil {
		return oops.Code("RESET_USER_LOOKUP_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	if !user.IsActive {
		return invalidResetToken("user inactive")
	}
	hash, err := g.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("RESET_HASH_FAILED").With("user_id", rec.UserID).Wrap(err)
	}
	return g.resets.Consume(ctx, rec, hash)
}

// Authenticate turns an access token into an Identity. The token's user
// must still exist and be active; roles come from the directory, not the
// token claims.
func (g *Gateway) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := g.codec.Verify(accessToken, AccessToken)
	if err != nil {
		return nil, oops.Code(CodeNotAuthenticated).Wrap(errors.Join(ErrNotAuthenticated, err))
	}
	user, err := g.directory.FindUserByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeNotAuthenticated).With("reason", "user missing").Wrap(ErrNotAuthenticated)
	}
	if err != nil {
		return nil, oops.Code("AUTHENTICATE_LOOKUP_FAILED").With("user_id", claims.Subject).Wrap(err)
	}
	if !user.IsActive {
		return nil, oops.Code(CodeNotAuthenticated).With("reason", "user inactive").Wrap(ErrNotAuthenticated)
	}
	roles, err := g.directory.RolesForUser(ctx, user.ID)
	if err != nil {
		return nil, oops.Code("ROLES_LOOKUP_FAILED").With("user_id", user.ID).Wrap(err)
	}
	return &Identity{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  roleNames(roles),
	}, nil
}

// Me returns a fresh snapshot of the identity's user.
func (g *Gateway) Me(ctx context.Context, identity *Identity) (*UserView, error) {
	if identity == nil {
		return nil, oops.Code(CodeNotAuthenticated).Wrap(ErrNotAuthenticated)
	}
	user, err := g.directory.FindUserByID(ctx, identity.UserID)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeNotAuthenticated).Wrap(ErrNotAuthenticated)
	}
	if err != nil {
		return nil, oops.Code("ME_LOOKUP_FAILED").With("user_id", identity.UserID).Wrap(err)
	}
	if !user.IsActive {
		return nil, oops.Code(CodeNotAuthenticated).Wrap(ErrNotAuthenticated)
	}
	view, err := g.snapshot(ctx, user)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// openSession signs an access token and then issues (or rotates into) a
// refresh token, so a signing failure never consumes the old refresh token.
func (g *Gateway) openSession(ctx context.Context, user *User, previous *RefreshTokenRecord) (*Session, error) {
	view, err := g.snapshot(ctx, user)
	if err != nil {
		return nil, err
	}

	claims := Claims{
		Email:            user.Email,
		Roles:            view.Roles,
		RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID},
	}
	access, accessExp, err := g.codec.Sign(claims, AccessToken, AccessTokenTTL)
	if err != nil {
		return nil, err
	}

	var refresh IssuedToken
	if previous == nil {
		refresh, err = g.refresh.Issue(ctx, user.ID)
	} else {
		refresh, err = g.refresh.Rotate(ctx, previous)
	}
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             view,
	}, nil
}

func (g *Gateway) snapshot(ctx context.Context, user *User) (UserView, error) {
	roles, err := g.directory.RolesForUser(ctx, user.ID)
	if err != nil {
		return UserView{}, oops.Code("ROLES_LOOKUP_FAILED").With("user_id", user.ID).Wrap(err)
	}
	perms, err := g.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return UserView{}, err
	}
	return UserView{
		ID:          user.ID,
		Email:       user.Email,
		Roles:       roleNames(roles),
		Permissions: perms.Sorted(),
	}, nil
}

func (g *Gateway) upgradeHash(ctx context.Context, user *User, password string) {
	if g.passwords == nil || !g.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	hash, err := g.hasher.Hash(password)
	if err == nil {
		err = g.passwords.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		g.logger.WarnContext(ctx, "password hash upgrade failed", "user_id", user.ID, "error", err)
		return
	}
	g.logger.InfoContext(ctx, "password hash upgraded", "user_id", user.ID)
}

func (g *Gateway) resetLink(token string) string {
	return g.resetURLBase + "/reset-password?token=" + url.QueryEscape(token)
}
