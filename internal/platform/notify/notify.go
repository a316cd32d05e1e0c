// Package notify delivers patient-facing messages over email and voice.
// Delivery is best effort everywhere it is driven by the workflow: a
// provider outage must never roll back the database write that triggered
// the message.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Channel is the delivery mechanism for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"
)

// Notification is one outbound message and its delivery outcome.
type Notification struct {
	ID           string            `json:"id"`
	Channel      Channel           `json:"channel"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	ProviderID   string            `json:"provider_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Dispatcher routes notifications to the configured senders and keeps an
// in-memory record of outcomes for the stats and retry endpoints.
type Dispatcher struct {
	email     EmailSender
	voice     VoiceCaller
	templates *TemplateEngine
	logger    zerolog.Logger

	mu   sync.RWMutex
	sent map[string]*Notification
}

func NewDispatcher(email EmailSender, voice VoiceCaller, tpl *TemplateEngine, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		email:     email,
		voice:     voice,
		templates: tpl,
		logger:    logger,
		sent:      make(map[string]*Notification),
	}
}

// Templates exposes the engine so callers can register tenant templates.
func (d *Dispatcher) Templates() *TemplateEngine { return d.templates }

// Send dispatches a notification and records the outcome.
func (d *Dispatcher) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()

	providerID, sendErr := d.deliver(ctx, n)
	d.record(n, providerID, sendErr)
	return sendErr
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification) (string, error) {
	switch n.Channel {
	case ChannelEmail:
		return d.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case ChannelVoice:
		return d.voice.CallPatient(ctx, n.Recipient, n.TemplateData["patient_name"], n.TemplateData["patient_id"], n.TemplateData)
	default:
		return "", fmt.Errorf("unsupported channel: %s", n.Channel)
	}
}

func (d *Dispatcher) record(n *Notification, providerID string, sendErr error) {
	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		n.ProviderID = providerID
		n.Error = ""
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	d.mu.Lock()
	d.sent[n.ID] = n
	d.mu.Unlock()
}

// SendTemplate renders a template and sends the result.
func (d *Dispatcher) SendTemplate(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error) {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	tpl, _ := d.templates.Get(templateID)
	n := &Notification{
		Channel:      tpl.Channel,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := d.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// SendTemplateAsync is the workflow-facing entry point: it sends on a
// detached context and only logs failures.
func (d *Dispatcher) SendTemplateAsync(templateID, recipient string, data map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := d.SendTemplate(ctx, templateID, recipient, data); err != nil {
			d.logger.Warn().Err(err).
				Str("template_id", templateID).
				Str("recipient", recipient).
				Msg("notification delivery failed")
		}
	}()
}

// ScheduleCallAsync asks the voice agent to call a patient, best effort.
func (d *Dispatcher) ScheduleCallAsync(phone, patientName, patientID string, callContext map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()
		callID, err := d.voice.CallPatient(ctx, phone, patientName, patientID, callContext)
		if err != nil {
			d.logger.Warn().Err(err).
				Str("patient_id", patientID).
				Msg("voice call failed")
			return
		}
		d.logger.Info().
			Str("patient_id", patientID).
			Str("call_id", callID).
			Msg("voice call placed")
	}()
}

// Get retrieves a recorded notification.
func (d *Dispatcher) Get(id string) (*Notification, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.sent[id]
	return n, ok
}

// Retry re-sends a failed notification.
func (d *Dispatcher) Retry(ctx context.Context, id string) error {
	d.mu.RLock()
	n, ok := d.sent[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != "failed" {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, n.Status)
	}

	providerID, sendErr := d.deliver(ctx, n)
	d.record(n, providerID, sendErr)
	return sendErr
}

// Stats returns notification counts by status.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range d.sent {
		stats[n.Status]++
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// Handler exposes notification operations for support tooling.
type Handler struct {
	dispatcher *Dispatcher
}

func NewHandler(d *Dispatcher) *Handler {
	return &Handler{dispatcher: d}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/notifications/send", h.HandleSend)
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

type sendRequest struct {
	TemplateID string            `json:"template_id"`
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data"`
}

func (h *Handler) HandleSend(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	if req.TemplateID != "" {
		n, err := h.dispatcher.SendTemplate(ctx, req.TemplateID, req.Recipient, req.Data)
		if err != nil && n == nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusCreated, n)
	}

	n := &Notification{
		Channel:      req.Channel,
		Recipient:    req.Recipient,
		Subject:      req.Subject,
		Body:         req.Body,
		TemplateData: req.Data,
	}
	// Failed sends still return the record so the caller sees the error.
	_ = h.dispatcher.Send(ctx, n)
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, ok := h.dispatcher.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.dispatcher.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, _ := h.dispatcher.Get(id)
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.dispatcher.Stats())
}
