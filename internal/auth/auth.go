// Package auth resolves the principal behind a connection or request
// from a bearer token.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/balkashynov/wrokhub/internal/clock"
	"github.com/balkashynov/wrokhub/internal/config"
	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/logging"
	"github.com/balkashynov/wrokhub/internal/models"
)

// Source records where a token was found.
type Source string

const (
	SourceSubprotocol Source = "subprotocol"
	SourceCookie      Source = "cookie"
	SourceQuery       Source = "query"
	SourceHeader      Source = "header"
)

// Principal is an authenticated user.
type Principal struct {
	User   *models.User
	Source Source
	// Token is the raw credential; set only when Source is
	// SourceSubprotocol so the handshake can echo it.
	Token string
}

// ID returns the principal's user id.
func (p *Principal) ID() uint { return p.User.ID }

// Claims is the token payload.
type Claims struct {
	UserID uint        `json:"user_id"`
	Role   models.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies tokens and loads their users.
type Authenticator struct {
	cfg   config.Auth
	conn  *gorm.DB
	clock clock.Clock
	log   *slog.Logger
}

// New returns an Authenticator backed by conn.
func New(cfg config.Auth, conn *gorm.DB, c clock.Clock, log *slog.Logger) *Authenticator {
	if c == nil {
		c = clock.Real()
	}
	return &Authenticator{cfg: cfg, conn: conn, clock: c, log: logging.OrDiscard(log)}
}

// StructurallyValid rejects empty, placeholder and non-JWT-shaped tokens
// before any cryptographic work.
func StructurallyValid(token string) bool {
	token = strings.TrimSpace(token)
	switch strings.ToLower(token) {
	case "", "none", "null", "undefined":
		return false
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
	}
	return true
}

// Extract finds a candidate token on r. Sources are tried in order:
// first websocket subprotocol, cookie, query parameter, then the
// Authorization header. A structurally invalid candidate falls through
// to the next source.
func (a *Authenticator) Extract(r *http.Request) (string, Source, bool) {
	if protos := subprotocols(r); len(protos) > 0 && StructurallyValid(protos[0]) {
		return strings.TrimSpace(protos[0]), SourceSubprotocol, true
	}
	if a.cfg.CookieName != "" {
		if c, err := r.Cookie(a.cfg.CookieName); err == nil && StructurallyValid(c.Value) {
			return strings.TrimSpace(c.Value), SourceCookie, true
		}
	}
	if a.cfg.QueryParam != "" {
		if v := r.URL.Query().Get(a.cfg.QueryParam); StructurallyValid(v) {
			return strings.TrimSpace(v), SourceQuery, true
		}
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && StructurallyValid(tok) {
			return strings.TrimSpace(tok), SourceHeader, true
		}
	}
	return "", "", false
}

// Authenticate extracts and verifies the token on r. Anonymous or
// invalid credentials yield AuthenticationFailed.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	token, src, ok := a.Extract(r)
	if !ok {
		return nil, errs.New(errs.AuthenticationFailed, "no credentials presented")
	}
	p, err := a.Verify(ctx, token)
	if err != nil {
		a.log.DebugContext(ctx, "token rejected", "source", src, "error", err)
		return nil, err
	}
	p.Source = src
	if src == SourceSubprotocol {
		p.Token = token
	}
	return p, nil
}

// Verify checks token's signature, issuer and expiry and loads the user
// it names. It gives up after the configured verify timeout.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Principal, error) {
	if !StructurallyValid(token) {
		return nil, errs.New(errs.AuthenticationFailed, "malformed token")
	}
	if a.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.VerifyTimeout)
		defer cancel()
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, a.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock.Now),
	)
	if err != nil {
		return nil, errs.Wrap(errs.AuthenticationFailed, err, "invalid token")
	}
	if claims.UserID == 0 {
		return nil, errs.New(errs.AuthenticationFailed, "token carries no user")
	}

	var user models.User
	err = a.conn.WithContext(ctx).First(&user, claims.UserID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errs.New(errs.AuthenticationFailed, "unknown user #%d", claims.UserID)
	case err != nil:
		return nil, errs.Wrap(errs.AuthenticationFailed, err, "user lookup failed")
	}
	return &Principal{User: &user}, nil
}

// Issue signs a token for user valid for ttl, or the configured TTL when
// ttl is zero.
func (a *Authenticator) Issue(user *models.User, ttl time.Duration) (string, error) {
	if len(a.cfg.Secret) == 0 {
		return "", errors.New("auth: signing secret not configured")
	}
	if ttl <= 0 {
		ttl = a.cfg.TokenTTL
	}
	now := a.clock.Now()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
}

func (a *Authenticator) key(*jwt.Token) (any, error) {
	return []byte(a.cfg.Secret), nil
}

func subprotocols(r *http.Request) []string {
	var out []string
	for _, h := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(h, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
