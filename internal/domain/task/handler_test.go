package task

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo, uuid.UUID) {
	svc, _, _, pid := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e, pid
}

func TestHandler_CreateTask(t *testing.T) {
	h, e, pid := newTestHandler()
	body := `{"patient_id":"` + pid.String() + `","title":"Collect records","priority":"high"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.CreateTask(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var got Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DisplayID == "" || got.Status != StatusOpen {
		t.Errorf("created task = %+v, want display id and open status", got)
	}
}

func TestHandler_CreateTask_Invalid(t *testing.T) {
	h, e, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"no patient"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.CreateTask(c); err == nil {
		t.Error("expected error for missing patient_id")
	}
}

func TestHandler_GetTask(t *testing.T) {
	h, e, pid := newTestHandler()
	tk := &Task{PatientID: pid, Title: "Verify coverage"}
	if _, err := h.svc.CreateTask(httptest.NewRequest(http.MethodGet, "/", nil).Context(), tk); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(tk.ID.String())
	if err := h.GetTask(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetTask_NotFound(t *testing.T) {
	h, e, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	if err := h.GetTask(c); err == nil {
		t.Error("expected error")
	}
}

func TestHandler_SetStatus(t *testing.T) {
	h, e, pid := newTestHandler()
	tk := &Task{PatientID: pid, Title: "Verify coverage"}
	if _, err := h.svc.CreateTask(httptest.NewRequest(http.MethodGet, "/", nil).Context(), tk); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"done"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(tk.ID.String())
	if err := h.SetStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != StatusDone || got.CompletedAt == nil {
		t.Errorf("task = %+v, want done with completed_at", got)
	}
}

func TestHandler_ListTasks(t *testing.T) {
	h, e, pid := newTestHandler()
	seedReq := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, title := range []string{"One", "Two"} {
		if _, err := h.svc.CreateTask(seedReq.Context(), &Task{PatientID: pid, Title: title}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+pid.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListTasks(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}

func TestHandler_SetStatus_MissingTask(t *testing.T) {
	h, e, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"done"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.SetStatus(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want 404 HTTPError", err)
	}
}
