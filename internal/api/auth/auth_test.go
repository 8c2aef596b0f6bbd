package auth

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jarcoal/httpmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aves-app/aves/internal/conf"
	"github.com/aves-app/aves/internal/errors"
	"github.com/aves-app/aves/internal/httpclient"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret string, claims SupabaseClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub, email string) SupabaseClaims {
	return SupabaseClaims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestJWTVerifier(t *testing.T) {
	t.Parallel()

	v := NewJWTVerifier(testSecret, []string{" Boss@Example.com "})

	adminByRole := validClaims("u2", "editor@example.com")
	adminByRole.AppMetadata.Role = RoleAdmin

	expired := validClaims("u3", "late@example.com")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	noExpiry := validClaims("u4", "forever@example.com")
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name      string
		token     string
		wantID    string
		wantAdmin bool
		wantErr   bool
	}{
		{"regular user", signToken(t, testSecret, validClaims("u1", "learner@example.com")), "u1", false, false},
		{"admin by email", signToken(t, testSecret, validClaims("u5", "boss@example.com")), "u5", true, false},
		{"admin by app metadata", signToken(t, testSecret, adminByRole), "u2", true, false},
		{"expired", signToken(t, testSecret, expired), "", false, true},
		{"no expiry", signToken(t, testSecret, noExpiry), "", false, true},
		{"wrong secret", signToken(t, "another-secret-another-secret-another", validClaims("u1", "")), "", false, true},
		{"no subject", signToken(t, testSecret, validClaims("", "x@example.com")), "", false, true},
		{"garbage", "not.a.jwt", "", false, true},
		{"empty", "", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			user, err := v.Verify(t.Context(), tt.token)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryAuth))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, user.ID)
			assert.Equal(t, tt.wantAdmin, user.IsAdmin)
		})
	}
}

func TestJWTVerifierRejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, validClaims("u1", "")).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewJWTVerifier(testSecret, nil).Verify(t.Context(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

const userURL = "https://project.supabase.test/auth/v1/user"

func newSupabase(t *testing.T) (*SupabaseVerifier, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	hc := httpclient.New(&httpclient.Config{DefaultTimeout: time.Second})
	hc.HTTPClient().Transport = transport
	return NewSupabaseVerifier("https://project.supabase.test/", "anon-key", []string{"boss@example.com"}, hc), transport
}

func TestSupabaseVerifierCachesAcceptedTokens(t *testing.T) {
	t.Parallel()

	v, transport := newSupabase(t)
	transport.RegisterResponder(http.MethodGet, userURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer opaque-token", req.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", req.Header.Get("apikey"))
		return httpmock.NewStringResponse(http.StatusOK,
			`{"id": "u9", "email": "Boss@example.com", "role": "authenticated", "app_metadata": {}}`), nil
	})

	for range 3 {
		user, err := v.Verify(t.Context(), "opaque-token")
		require.NoError(t, err)
		assert.Equal(t, "u9", user.ID)
		assert.True(t, user.IsAdmin)
	}
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestSupabaseVerifierStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   errors.ErrorCategory
	}{
		{http.StatusUnauthorized, errors.CategoryAuth},
		{http.StatusForbidden, errors.CategoryAuth},
		{http.StatusBadGateway, errors.CategoryNetwork},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			v, transport := newSupabase(t)
			transport.RegisterResponder(http.MethodGet, userURL, httpmock.NewStringResponder(tt.status, `{"msg":"no"}`))

			_, err := v.Verify(t.Context(), "tok")
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.CategoryOf(err))
		})
	}
}

func TestNewServiceSelection(t *testing.T) {
	t.Parallel()

	assert.IsType(t, &JWTVerifier{}, NewService(&conf.AuthSettings{JWTSecret: "s", SupabaseURL: "https://x"}, nil))
	assert.IsType(t, &SupabaseVerifier{}, NewService(&conf.AuthSettings{SupabaseURL: "https://x"}, nil))

	_, err := NewService(&conf.AuthSettings{}, nil).Verify(t.Context(), "tok")
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func serve(t *testing.T, mw *Middleware, admin bool, header string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	chain := []echo.MiddlewareFunc{mw.Authenticate}
	if admin {
		chain = append(chain, mw.RequireAdmin)
	}
	e.GET("/protected", func(c echo.Context) error {
		user, ok := UserFrom(c)
		require.True(t, ok)
		return c.JSON(http.StatusOK, user)
	}, chain...)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type authCounter struct {
	mu     sync.Mutex
	byPair map[string]int
}

func (a *authCounter) RecordAuth(method string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.byPair == nil {
		a.byPair = map[string]int{}
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	a.byPair[method+"/"+result]++
}

func (a *authCounter) count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byPair[key]
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	counter := &authCounter{}
	mw := NewMiddleware(NewJWTVerifier(testSecret, []string{"boss@example.com"}), counter)
	userToken := signToken(t, testSecret, validClaims("u1", "learner@example.com"))
	adminToken := signToken(t, testSecret, validClaims("u2", "boss@example.com"))

	tests := []struct {
		name   string
		admin  bool
		header string
		want   int
	}{
		{"no header", false, "", http.StatusUnauthorized},
		{"basic scheme", false, "Basic abc", http.StatusUnauthorized},
		{"invalid token", false, "Bearer nope", http.StatusUnauthorized},
		{"valid user", false, "Bearer " + userToken, http.StatusOK},
		{"lowercase scheme", false, "bearer " + userToken, http.StatusOK},
		{"user on admin route", true, "Bearer " + userToken, http.StatusForbidden},
		{"admin on admin route", true, "Bearer " + adminToken, http.StatusOK},
	}
	t.Cleanup(func() {
		// Missing and non-bearer headers never reach the verifier.
		assert.Equal(t, 1, counter.count("jwt/error"))
		assert.Equal(t, 4, counter.count("jwt/success"))
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, mw, tt.admin, tt.header)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestMiddlewareUnconfigured(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewMiddleware(NewService(&conf.AuthSettings{}, nil), nil), false, "Bearer tok")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
