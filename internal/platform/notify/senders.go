package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// EmailSender delivers an email and returns the provider's message id.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) (messageID string, err error)
}

// VoiceCaller places an outbound phone call through a voice-agent
// provider and returns the call id.
type VoiceCaller interface {
	CallPatient(ctx context.Context, phone, patientName, patientID string, callContext map[string]string) (callID string, err error)
}

// ---------------------------------------------------------------------------
// HTTP clients
// ---------------------------------------------------------------------------

// RestEmailSender sends mail through an HTTP email API.
type RestEmailSender struct {
	client *resty.Client
	from   string
}

func NewRestEmailSender(baseURL, apiKey, from string) *RestEmailSender {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &RestEmailSender{client: client, from: from}
}

type emailAPIResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (s *RestEmailSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	var result emailAPIResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from":    s.from,
			"to":      to,
			"subject": subject,
			"body":    body,
		}).
		SetResult(&result).
		Post("/v1/messages")
	if err != nil {
		return "", fmt.Errorf("email api: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("email api: status %d", resp.StatusCode())
	}
	if !result.Success {
		return "", fmt.Errorf("email api: %s", result.Error)
	}
	return result.MessageID, nil
}

// RestVoiceCaller places calls through a hosted voice-agent API.
type RestVoiceCaller struct {
	client        *resty.Client
	phoneNumberID string
	assistantID   string
}

func NewRestVoiceCaller(baseURL, apiKey, phoneNumberID, assistantID string) *RestVoiceCaller {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(30 * time.Second)
	return &RestVoiceCaller{client: client, phoneNumberID: phoneNumberID, assistantID: assistantID}
}

type voiceAPIResponse struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (v *RestVoiceCaller) CallPatient(ctx context.Context, phone, patientName, patientID string, callContext map[string]string) (string, error) {
	normalized, err := NormalizePhone(phone)
	if err != nil {
		return "", err
	}

	vars := map[string]string{
		"patient_name": patientName,
		"patient_id":   patientID,
	}
	for k, val := range callContext {
		vars[k] = val
	}

	var result voiceAPIResponse
	resp, err := v.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"phoneNumberId": v.phoneNumberID,
			"assistantId":   v.assistantID,
			"customer":      map[string]string{"number": normalized, "name": patientName},
			"assistantOverrides": map[string]interface{}{
				"variableValues": vars,
			},
		}).
		SetResult(&result).
		Post("/call")
	if err != nil {
		return "", fmt.Errorf("voice api: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("voice api: status %d", resp.StatusCode())
	}
	if result.ID == "" {
		return "", fmt.Errorf("voice api: %s", result.Error)
	}
	return result.ID, nil
}

// NormalizePhone converts a phone number to E.164. Ten-digit numbers are
// assumed to be US.
func NormalizePhone(phone string) (string, error) {
	if strings.HasPrefix(phone, "+") {
		return phone, nil
	}

	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	switch d := digits.String(); {
	case len(d) == 10:
		return "+1" + d, nil
	case len(d) == 11 && d[0] == '1':
		return "+" + d, nil
	case len(d) >= 8:
		return "+" + d, nil
	default:
		return "", fmt.Errorf("invalid phone number: %q", phone)
	}
}

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// EmailCall records one SendEmail invocation.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return "", errors.New(m.FailError)
	}
	return fmt.Sprintf("msg-%d", len(m.calls)), nil
}

func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// VoiceCall records one CallPatient invocation.
type VoiceCall struct {
	Phone       string
	PatientName string
	PatientID   string
	Context     map[string]string
}

type MockVoiceCaller struct {
	mu         sync.Mutex
	calls      []VoiceCall
	ShouldFail bool
	FailError  string
}

func (m *MockVoiceCaller) CallPatient(_ context.Context, phone, patientName, patientID string, callContext map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, VoiceCall{Phone: phone, PatientName: patientName, PatientID: patientID, Context: callContext})
	if m.ShouldFail {
		return "", errors.New(m.FailError)
	}
	return fmt.Sprintf("call-%d", len(m.calls)), nil
}

func (m *MockVoiceCaller) Calls() []VoiceCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]VoiceCall, len(m.calls))
	copy(out, m.calls)
	return out
}
