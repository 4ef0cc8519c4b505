package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func authedRequest(t *testing.T, secret []byte, mutate func(*http.Request)) (*httptest.ResponseRecorder, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/meetings", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var seen string
	h := EchoAuthMiddleware(secret)(func(c echo.Context) error {
		seen, _ = SubjectFromContext(c.Request().Context())
		return c.String(http.StatusOK, seen)
	})
	return rec, c, h(c)
}

func TestEchoAuthMiddlewareAcceptsBearer(t *testing.T) {
	secret := []byte("s3cret")
	tok, err := SignJWT("user-1", secret, time.Minute, ScopeRead)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec, c, err := authedRequest(t, secret, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) })
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("subject = %q", rec.Body.String())
	}
	if got := c.Get("user_id"); got != "user-1" {
		t.Fatalf("user_id = %v", got)
	}
}

func TestEchoAuthMiddlewareRejects(t *testing.T) {
	secret := []byte("s3cret")
	expired, _ := SignJWT("user-1", secret, -time.Minute)
	foreign, _ := SignJWT("user-1", []byte("other"), time.Minute)
	cases := map[string]func(*http.Request){
		"missing": nil,
		"expired": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
		"foreign": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+foreign) },
		"query without upgrade": func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", foreign)
			r.URL.RawQuery = q.Encode()
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := authedRequest(t, secret, mutate)
			he, ok := err.(*echo.HTTPError)
			if !ok || he.Code != http.StatusUnauthorized {
				t.Fatalf("err = %v, want 401", err)
			}
		})
	}
}

func TestEchoAuthMiddlewareWebsocketQueryToken(t *testing.T) {
	secret := []byte("s3cret")
	tok, _ := SignJWT("user-2", secret, time.Minute)
	rec, _, err := authedRequest(t, secret, func(r *http.Request) {
		r.Header.Set("Upgrade", "websocket")
		r.URL.RawQuery = "token=" + tok
	})
	if err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if rec.Body.String() != "user-2" {
		t.Fatalf("subject = %q", rec.Body.String())
	}
}

func TestRequireScopes(t *testing.T) {
	secret := []byte("s3cret")
	readOnly, _ := SignJWT("u", secret, time.Minute, ScopeRead)
	unscoped, _ := SignJWT("u", secret, time.Minute)
	run := func(tok string) error {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		c := e.NewContext(req, httptest.NewRecorder())
		h := EchoAuthMiddleware(secret)(RequireScopes(ScopeWrite)(func(c echo.Context) error { return nil }))
		return h(c)
	}
	if err := run(readOnly); err == nil || err.(*echo.HTTPError).Code != http.StatusForbidden {
		t.Fatalf("read-only token err = %v, want 403", err)
	}
	if err := run(unscoped); err != nil {
		t.Fatalf("unscoped token err = %v", err)
	}
}
