// Package auth verifies Supabase access tokens and guards API routes.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/httpclient"
)

// Sentinel errors for authentication failures.
var (
	ErrMissingToken  = errors.NewStd("missing bearer token")
	ErrInvalidToken  = errors.NewStd("invalid or expired token")
	ErrNotConfigured = errors.NewStd("authentication is not configured")
)

const (
	// RoleAdmin is the app_metadata role granting admin access.
	RoleAdmin = "admin"

	remoteCacheTTL = time.Minute
)

// User is the authenticated caller.
type User struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
}

// Service verifies bearer tokens.
type Service interface {
	Verify(ctx context.Context, token string) (*User, error)
	// Method names the verification method for metrics.
	Method() string
}

// appMetadata is the admin-controlled part of a Supabase user.
type appMetadata struct {
	Role string `json:"role"`
}

// SupabaseClaims are the claims of a Supabase access token.
type SupabaseClaims struct {
	Email       string      `json:"email"`
	Role        string      `json:"role"`
	AppMetadata appMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

type admins []string

func newAdmins(emails []string) admins {
	out := make(admins, 0, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func (a admins) user(id, email, role, appRole string) *User {
	return &User{
		ID:      id,
		Email:   email,
		Role:    role,
		IsAdmin: appRole == RoleAdmin || (email != "" && slices.Contains(a, strings.ToLower(email))),
	}
}

// NewService picks local HS256 verification when a JWT secret is set, otherwise
// remote verification against Supabase. With neither, every token is rejected
// with ErrNotConfigured.
func NewService(cfg *conf.AuthSettings, client *httpclient.Client) Service {
	switch {
	case cfg.JWTSecret != "":
		return NewJWTVerifier(cfg.JWTSecret, cfg.AdminEmails)
	case cfg.SupabaseURL != "":
		return NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.AdminEmails, client)
	default:
		return unconfigured{}
	}
}

type unconfigured struct{}

func (unconfigured) Method() string { return "none" }

func (unconfigured) Verify(context.Context, string) (*User, error) {
	return nil, errors.New(ErrNotConfigured).
		Component("auth").
		Category(errors.CategoryConfiguration).
		Build()
}

// JWTVerifier checks HS256 tokens signed with the project's JWT secret.
type JWTVerifier struct {
	secret []byte
	admins admins
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for secret.
func NewJWTVerifier(secret string, adminEmails []string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		admins: newAdmins(adminEmails),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Method returns "jwt".
func (v *JWTVerifier) Method() string { return "jwt" }

// Verify validates the token signature and expiry.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*User, error) {
	if token == "" {
		return nil, authError(ErrMissingToken)
	}
	claims := &SupabaseClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.New(ErrInvalidToken).
			Component("auth").
			Category(errors.CategoryAuth).
			Context("reason", err.Error()).
			Build()
	}
	if claims.Subject == "" {
		return nil, authError(ErrInvalidToken)
	}
	return v.admins.user(claims.Subject, claims.Email, claims.Role, claims.AppMetadata.Role), nil
}

// SupabaseVerifier asks Supabase who owns a token. Accepted tokens are cached briefly.
type SupabaseVerifier struct {
	http    *httpclient.Client
	userURL string
	anonKey string
	admins  admins
	cache   *cache.Cache
}

// NewSupabaseVerifier creates a verifier calling GET <baseURL>/auth/v1/user.
func NewSupabaseVerifier(baseURL, anonKey string, adminEmails []string, client *httpclient.Client) *SupabaseVerifier {
	if client == nil {
		client = httpclient.New(&httpclient.Config{DefaultTimeout: 10 * time.Second})
	}
	return &SupabaseVerifier{
		http:    client,
		userURL: strings.TrimRight(baseURL, "/") + "/auth/v1/user",
		anonKey: anonKey,
		admins:  newAdmins(adminEmails),
		cache:   cache.New(remoteCacheTTL, 5*remoteCacheTTL),
	}
}

type supabaseUser struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	Role        string      `json:"role"`
	AppMetadata appMetadata `json:"app_metadata"`
}

// Method returns "supabase".
func (v *SupabaseVerifier) Method() string { return "supabase" }

// Verify resolves the token remotely.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, authError(ErrMissingToken)
	}
	key := tokenKey(token)
	if u, ok := v.cache.Get(key); ok {
		return u.(*User), nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	if v.anonKey != "" {
		header.Set("apikey", v.anonKey)
	}

	resp, err := v.http.Get(ctx, v.userURL, header)
	if err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryNetwork).
			Context("operation", "supabase_get_user").
			Build()
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_ = httpclient.ReadErrorBody(resp)
		return nil, authError(ErrInvalidToken)
	case resp.StatusCode != http.StatusOK:
		body := httpclient.ReadErrorBody(resp)
		return nil, errors.Newf("supabase returned status %d", resp.StatusCode).
			Component("auth").
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Context("response_body", body).
			Build()
	}

	var su supabaseUser
	if err := httpclient.DecodeJSON(resp, &su); err != nil {
		return nil, errors.New(err).
			Component("auth").
			Category(errors.CategoryNetwork).
			Context("operation", "decode_supabase_user").
			Build()
	}
	if su.ID == "" {
		return nil, authError(ErrInvalidToken)
	}

	user := v.admins.user(su.ID, su.Email, su.Role, su.AppMetadata.Role)
	v.cache.SetDefault(key, user)
	return user, nil
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func authError(err error) error {
	return errors.New(err).
		Component("auth").
		Category(errors.CategoryAuth).
		Build()
}
