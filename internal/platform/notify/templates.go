package notify

import (
	"fmt"
	"strings"
	"sync"
)

// Template is a reusable message with {{key}} placeholders.
type Template struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Subject string  `json:"subject"`
	Body    string  `json:"body"`
	Channel Channel `json:"channel"`
}

// TemplateEngine stores templates and renders them with data maps.
// Placeholders missing from the data map are left untouched.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "patient-welcome",
			Name:    "Patient Welcome",
			Subject: "Welcome to {{clinic_name}}",
			Body:    "Dear {{patient_name}}, welcome to {{clinic_name}}. Your intake has started and your care team will guide you through the next steps. Your medical record number is {{mrn}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      "documents-received",
			Name:    "Documents Received",
			Subject: "We received your documents",
			Body:    "Dear {{patient_name}}, we have received and processed your medical documents. Your care team is reviewing them and will reach out to schedule your consultation.",
			Channel: ChannelEmail,
		},
		{
			ID:      "consent-request",
			Name:    "Consent Forms Request",
			Subject: "Action needed: consent forms for {{patient_name}}",
			Body:    "Dear {{patient_name}}, please review and sign the consent forms we sent: {{form_names}}. Signing is required before we can collect your medical records.",
			Channel: ChannelEmail,
		},
		{
			ID:      "appointment-scheduled",
			Name:    "Appointment Scheduled",
			Subject: "Your appointment is scheduled",
			Body:    "Dear {{patient_name}}, your {{appointment_type}} with {{provider}} is scheduled for {{date}} at {{time}}.",
			Channel: ChannelEmail,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Get returns a template by id.
func (e *TemplateEngine) Get(id string) (*Template, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.templates[id]
	return t, ok
}

// Render substitutes {{key}} placeholders in the template's subject and
// body with values from data.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	t, ok := e.Get(templateID)
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
