package agenttools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "test tool",
		Run: func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			var in map[string]string
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return in, nil
		},
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("create_task")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(echoTool("create_task")); err == nil {
		t.Fatal("duplicate registration succeeded")
	}
	if err := r.Register(Tool{Name: "broken"}); err == nil {
		t.Fatal("tool without a run function accepted")
	}
}

func TestForAgentFilters(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"create_task", "get_documents", "update_insurance_claim"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	got := r.ForAgent("doc_extraction")
	want := map[string]bool{"get_documents": true, "create_task": true}
	if len(got) != len(want) {
		t.Fatalf("doc_extraction tools = %v", got)
	}
	for _, d := range got {
		if !want[d.Name] {
			t.Errorf("unexpected tool %q for doc_extraction", d.Name)
		}
	}

	if tools := r.ForAgent("unknown_agent"); len(tools) != 0 {
		t.Errorf("unknown agent got tools: %v", tools)
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed("", "update_insurance_claim") {
		t.Error("unscoped caller should reach any tool")
	}
	if !Allowed("insurance", "update_insurance_claim") {
		t.Error("insurance agent should reach update_insurance_claim")
	}
	if Allowed("intake", "update_insurance_claim") {
		t.Error("intake agent reached update_insurance_claim")
	}
}

func callTool(t *testing.T, h *Handler, name, agent, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/tools/"+name, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if agent != "" {
		req.Header.Set("X-Agent-Type", agent)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/tools/:name")
	c.SetParamNames("name")
	c.SetParamValues(name)
	if err := h.Call(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestCallDispatches(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("get_patient")); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := NewHandler(r)

	rec := callTool(t, h, "get_patient", "", `{"patient_id":"abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool              `json:"success"`
		Result  map[string]string `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Result["patient_id"] != "abc" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCallUnknownTool(t *testing.T) {
	h := NewHandler(NewRegistry())
	if rec := callTool(t, h, "no_such_tool", "", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestCallEnforcesAgentScope(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("update_insurance_claim")); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := NewHandler(r)

	if rec := callTool(t, h, "update_insurance_claim", "intake", `{}`); rec.Code != http.StatusForbidden {
		t.Errorf("intake call status = %d, want 403", rec.Code)
	}
	if rec := callTool(t, h, "update_insurance_claim", "insurance", `{}`); rec.Code != http.StatusOK {
		t.Errorf("insurance call status = %d, want 200", rec.Code)
	}
}

func TestCallRejectsMalformedBody(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("get_patient")); err != nil {
		t.Fatalf("register: %v", err)
	}
	h := NewHandler(r)

	if rec := callTool(t, h, "get_patient", "", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	// Empty body defaults to an empty argument object.
	if rec := callTool(t, h, "get_patient", "", ""); rec.Code != http.StatusOK {
		t.Errorf("empty body status = %d, want 200", rec.Code)
	}
}
