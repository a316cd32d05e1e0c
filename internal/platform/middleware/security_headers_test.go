package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runSecured(t *testing.T, path string, handler echo.HandlerFunc) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, SecurityHeaders()(handler)(c)
}

func TestSecurityHeadersStampsEveryHeader(t *testing.T) {
	rec, err := runSecured(t, "/api/patients", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, kv := range apiHeaders {
		if got := rec.Header().Get(kv[0]); got != kv[1] {
			t.Errorf("header %s = %q, want %q", kv[0], got, kv[1])
		}
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Error("chart responses must not be cacheable")
	}
}

func TestSecurityHeadersSurviveHandlerError(t *testing.T) {
	rec, err := runSecured(t, "/api/claims/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "claim not found")
	})
	if err == nil {
		t.Fatal("handler error should propagate")
	}
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("headers must be stamped before the handler runs")
	}
}
