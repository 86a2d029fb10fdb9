package handler_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/api/handler"
	"github.com/LorenzoFerro15/linux-ima-namespaces/internal/identity"
)

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	for header, want := range map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
}

func TestMaxBody_rejectsOversized(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.MaxBody(8))
	r.POST("/", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short")))
	if w.Code != http.StatusOK {
		t.Errorf("small body: expected 200, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("much longer than eight bytes")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("large body: expected 413, got %d", w.Code)
	}
}

func TestRateLimiter_429AfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(handler.RateLimiter(ctx, 1, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("unexpected status sequence %v", codes)
	}
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)

	r := gin.New()
	r.Use(handler.RequestLogger(zap.New(core)))
	r.GET("/api/v1/namespaces", func(c *gin.Context) { c.Status(http.StatusTeapot) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/namespaces", nil))

	entries := logs.FilterMessage("request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["path"] != "/api/v1/namespaces" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestAdminChain(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tokens := identity.NewTokenIssuer(key, "imad-test", time.Hour)
	env := setupRouter(t, identity.RequireToken(tokens), identity.RequireScope(identity.ScopeNamespaces))

	create := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/namespaces", strings.NewReader(`{"activate":true}`))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w.Code
	}

	if code := create(""); code != http.StatusUnauthorized {
		t.Errorf("no token: expected 401, got %d", code)
	}
	measureOnly, err := tokens.Issue("ci", []string{identity.ScopeMeasure})
	if err != nil {
		t.Fatal(err)
	}
	if code := create(measureOnly); code != http.StatusForbidden {
		t.Errorf("wrong scope: expected 403, got %d", code)
	}
	admin, err := tokens.Issue("ops", []string{identity.ScopeNamespaces})
	if err != nil {
		t.Fatal(err)
	}
	if code := create(admin); code != http.StatusCreated {
		t.Errorf("admin: expected 201, got %d", code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/namespaces", nil)
	if w.Code != http.StatusOK {
		t.Errorf("reads stay public: expected 200, got %d", w.Code)
	}
}

func TestPrometheusMiddleware_unmatchedPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `ima_http_requests_total{method="GET",path="unmatched",status="404"}`) {
		t.Errorf("unmatched request not counted:\n%s", w.Body.String())
	}
}
