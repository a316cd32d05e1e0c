// Package agenttools exposes service operations as named tools for the
// hosted-agent boundary. Agents call tools by name with a JSON argument
// object; each agent type sees only its permitted subset.
package agenttools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool is one named operation. Run receives the raw JSON argument
// object and returns a JSON-serializable result.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args json.RawMessage) (interface{}, error)
}

// Descriptor is the listing shape returned to agents.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("tool needs a name and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Descriptor{Name: t.Name, Description: t.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// agentToolsets scopes which tools each agent type may call. Unknown
// agent types get nothing.
var agentToolsets = map[string][]string{
	"intake": {
		"get_documents",
		"get_consent_forms",
		"send_consent_forms",
		"update_consent_form",
		"get_patient",
		"update_patient",
		"create_task",
		"update_task",
		"get_tasks",
	},
	"doc_extraction": {
		"get_documents",
		"get_patient",
		"update_patient",
		"create_task",
		"update_task",
	},
	"care_taker": {
		"get_appointments",
		"create_appointment",
		"update_appointment",
		"delete_appointment",
		"get_patient",
		"get_documents",
		"create_task",
		"update_task",
	},
	"insurance": {
		"create_insurance_claim",
		"update_insurance_claim",
		"get_insurance_claims",
		"get_patient",
		"get_documents",
		"create_task",
		"update_task",
	},
}

// ForAgent lists the tools an agent type is allowed to call, in its
// permission order. Names without a registered tool are skipped.
func (r *Registry) ForAgent(agentType string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, name := range agentToolsets[agentType] {
		if t, ok := r.tools[name]; ok {
			out = append(out, Descriptor{Name: t.Name, Description: t.Description})
		}
	}
	return out
}

// Allowed reports whether an agent type may call a tool. An empty agent
// type means an unscoped caller and is always allowed.
func Allowed(agentType, tool string) bool {
	if agentType == "" {
		return true
	}
	for _, name := range agentToolsets[agentType] {
		if name == tool {
			return true
		}
	}
	return false
}
