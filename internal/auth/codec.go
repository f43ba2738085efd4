package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Token lifetimes.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
	ResetTokenTTL   = time.Hour
)

const (
	// MinSecretLength is the minimum size in bytes of every signing secret.
	MinSecretLength = 32

	// ResetPurpose marks reset tokens.
	ResetPurpose = "password-reset"

	defaultIssuer = "studiodesk"
)

// TokenKind selects the secret a token is signed with.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
	ResetToken   TokenKind = "reset"
)

// Secrets holds one signing secret per token kind.
type Secrets struct {
	Access  string
	Refresh string
	Reset   string
}

// Validate checks presence, length and distinctness of the secrets.
// Failures are configuration errors and must stop the process.
func (s Secrets) Validate() error {
	named := []struct {
		name  string
		value string
	}{
		{"access", s.Access},
		{"refresh", s.Refresh},
		{"reset", s.Reset},
	}
	for _, n := range named {
		if strings.TrimSpace(n.value) == "" {
			return oops.Code(CodeConfiguration).With("secret", n.name).
				Wrap(fmt.Errorf("%w: %s token secret is required", ErrConfiguration, n.name))
		}
		if len(n.value) < MinSecretLength {
			return oops.Code(CodeConfiguration).With("secret", n.name).
				Wrap(fmt.Errorf("%w: %s token secret must be at least %d bytes", ErrConfiguration, n.name, MinSecretLength))
		}
	}
	if s.Access == s.Refresh || s.Access == s.Reset || s.Refresh == s.Reset {
		return oops.Code(CodeConfiguration).
			Wrap(fmt.Errorf("%w: token secrets must be distinct per token kind", ErrConfiguration))
	}
	return nil
}

// Claims is the payload of every token this service signs.
type Claims struct {
	Email     string    `json:"email,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
	TokenType TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenCodec signs and verifies HS256 tokens, one secret per kind.
type TokenCodec struct {
	keys   map[TokenKind][]byte
	issuer string
	now    func() time.Time
}

// CodecOption configures TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			c.issuer = issuer
		}
	}
}

// WithCodecClock overrides the time source (tests).
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec validates the secrets and builds a codec.
func NewTokenCodec(secrets Secrets, opts ...CodecOption) (*TokenCodec, error) {
	if err := secrets.Validate(); err != nil {
		return nil, err
	}
	c := &TokenCodec{
		keys: map[TokenKind][]byte{
			AccessToken:  []byte(secrets.Access),
			RefreshToken: []byte(secrets.Refresh),
			ResetToken:   []byte(secrets.Reset),
		},
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sign stamps iss/iat/exp/jti and the token type onto claims and signs them
// with the secret of kind.
func (c *TokenCodec) Sign(claims Claims, kind TokenKind, ttl time.Duration) (string, time.Time, error) {
	key, ok := c.keys[kind]
	if !ok {
		return "", time.Time{}, oops.Code(CodeTokenInvalid).Errorf("unknown token kind %q", kind)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, oops.Code(CodeTokenInvalid).Errorf("subject is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, oops.Code(CodeTokenInvalid).Errorf("ttl must be greater than zero")
	}

	now := c.now().UTC().Truncate(time.Second)
	exp := now.Add(ttl)
	claims.TokenType = kind
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_SIGN_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return signed, exp, nil
}

// Verify parses token with the secret of kind. It fails with ErrTokenExpired
// when the signature is valid but the token has expired and with
// ErrTokenInvalid for everything else.
func (c *TokenCodec) Verify(token string, kind TokenKind) (*Claims, error) {
	key, ok := c.keys[kind]
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return nil, tokenInvalid(kind, "empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).With("kind", string(kind)).Wrap(ErrTokenExpired)
		}
		return nil, tokenInvalid(kind, "parse")
	}
	if claims.TokenType != kind {
		return nil, tokenInvalid(kind, "token type")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, tokenInvalid(kind, "subject")
	}
	return claims, nil
}

func tokenInvalid(kind TokenKind, reason string) error {
	return oops.Code(CodeTokenInvalid).
		With("kind", string(kind)).
		With("reason", reason).
		Wrap(ErrTokenInvalid)
}
