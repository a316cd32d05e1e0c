package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestExtractTenantID_FromHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "northside_clinic")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tid := extractTenantID(c, "default")
	if tid != "northside_clinic" {
		t.Errorf("expected northside_clinic, got %s", tid)
	}
}

func TestExtractTenantID_FromQuery(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=westside_clinic", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tid := extractTenantID(c, "default")
	if tid != "westside_clinic" {
		t.Errorf("expected westside_clinic, got %s", tid)
	}
}

func TestExtractTenantID_JWTClaimWins(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?tenant_id=from_query", nil)
	req.Header.Set("X-Tenant-ID", "from_header")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("jwt_tenant_id", "from_jwt")

	tid := extractTenantID(c, "default")
	if tid != "from_jwt" {
		t.Errorf("expected from_jwt, got %s", tid)
	}
}

func TestExtractTenantID_Default(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tid := extractTenantID(c, "default")
	if tid != "default" {
		t.Errorf("expected default, got %s", tid)
	}
}

func TestTenantIDPattern(t *testing.T) {
	valid := []string{"default", "clinic_1", "ABC123"}
	invalid := []string{"", "a-b", "x; DROP SCHEMA", "ten ant"}

	for _, id := range valid {
		if !tenantIDPattern.MatchString(id) {
			t.Errorf("expected %q to be a valid tenant id", id)
		}
	}
	for _, id := range invalid {
		if tenantIDPattern.MatchString(id) {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestTenantFromContext(t *testing.T) {
	ctx := WithTenant(context.Background(), "northside_clinic")
	if got := TenantFromContext(ctx); got != "northside_clinic" {
		t.Errorf("expected northside_clinic, got %s", got)
	}
	if got := TenantFromContext(context.Background()); got != "" {
		t.Errorf("expected empty tenant for bare context, got %s", got)
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx for bare context")
	}
}
