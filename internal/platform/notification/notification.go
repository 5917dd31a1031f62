// Package notification renders billing templates and delivers them over email
// or SMS. Delivery is best effort: callers dispatch and move on.
package notification

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Built-in template identifiers.
const (
	TemplateOverdueReminder = "invoice-overdue-reminder"
	TemplatePaymentReceipt  = "payment-receipt"
	TemplateInvoiceVoided   = "invoice-voided"
)

type Notification struct {
	ID         string            `json:"id"`
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, from, to, subject, body string) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type Template struct {
	ID      string
	Subject string
	Body    string
	Channel Channel
}

// TemplateEngine substitutes {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TemplateOverdueReminder,
			Subject: "Invoice {{invoice_number}} is overdue",
			Body:    "Dear {{patient_name}}, invoice {{invoice_number}} was due on {{due_date}}. The outstanding balance is {{balance}} {{currency}} ({{overdue_days}} days overdue).",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplatePaymentReceipt,
			Subject: "Payment received for invoice {{invoice_number}}",
			Body:    "Dear {{patient_name}}, we received {{amount}} {{currency}} by {{method}}. Remaining balance: {{balance}} {{currency}}.",
			Channel: ChannelEmail,
		},
		{
			ID:      TemplateInvoiceVoided,
			Subject: "Invoice {{invoice_number}} has been cancelled",
			Body:    "Dear {{patient_name}}, invoice {{invoice_number}} has been cancelled. Reason: {{reason}}",
			Channel: ChannelEmail,
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render returns the filled subject and body. Unknown placeholders are left
// in place.
func (e *TemplateEngine) Render(id string, data map[string]string) (Template, error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return Template{}, errors.Newf("template %q not found", id)
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	t.Subject = r.Replace(t.Subject)
	t.Body = r.Replace(t.Body)
	return t, nil
}

// LogSender writes messages to the log instead of delivering them. It is
// the default when no mail or SMS gateway is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, from, to, subject, body string) error {
	s.Logger.Info().Str("from", from).Str("to", to).Str("subject", subject).Str("body", body).Msg("email")
	return nil
}

func (s LogSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("to", to).Str("body", body).Msg("sms")
	return nil
}

type Config struct {
	From        string
	MaxAttempts uint64
	// RetryInterval is the first backoff delay between attempts.
	RetryInterval time.Duration
	// Retention bounds how long sent notifications stay inspectable.
	Retention time.Duration
}

// Manager renders, sends and remembers notifications.
type Manager struct {
	cfg       Config
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	outbox    *cache.Cache
	logger    zerolog.Logger
	wg        conc.WaitGroup
}

func NewManager(cfg Config, email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *Manager {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{
		cfg:       cfg,
		email:     email,
		sms:       sms,
		templates: tpl,
		outbox:    cache.New(cfg.Retention, time.Hour),
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		if m.email == nil {
			return errors.New("no email sender configured")
		}
		return m.email.SendEmail(ctx, m.cfg.From, n.Recipient, n.Subject, n.Body)
	case ChannelSMS:
		if m.sms == nil {
			return errors.New("no sms sender configured")
		}
		return m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return backoff.Permanent(errors.Newf("unsupported channel %q", n.Channel))
	}
}

// Send renders templateID and delivers it, retrying transient failures.
func (m *Manager) Send(ctx context.Context, templateID, recipient string, data map[string]string) (*Notification, error) {
	if recipient == "" {
		return nil, errors.New("recipient is required")
	}
	t, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		ID:         uuid.NewString(),
		Channel:    t.Channel,
		Recipient:  recipient,
		Subject:    t.Subject,
		Body:       t.Body,
		TemplateID: templateID,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, m.cfg.MaxAttempts-1), ctx)
	err = backoff.Retry(func() error {
		n.Attempts++
		return m.deliver(ctx, n)
	}, policy)

	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusSent
		at := time.Now().UTC()
		n.SentAt = &at
	}
	m.outbox.SetDefault(n.ID, n)
	return n, err
}

// Dispatch sends in the background. Failures are logged, never returned.
func (m *Manager) Dispatch(ctx context.Context, templateID, recipient string, data map[string]string) {
	ctx = context.WithoutCancel(ctx)
	m.wg.Go(func() {
		n, err := m.Send(ctx, templateID, recipient, data)
		if err != nil {
			evt := m.logger.Warn().Err(err).Str("template", templateID).Str("recipient", recipient)
			if n != nil {
				evt = evt.Int("attempts", n.Attempts)
			}
			evt.Msg("notification not delivered")
			return
		}
		m.logger.Debug().Str("id", n.ID).Str("template", templateID).Msg("notification sent")
	})
}

// Wait blocks until every dispatched notification has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) Get(id string) (*Notification, bool) {
	v, ok := m.outbox.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Notification), true
}

// Recent returns retained notifications for recipient, newest first.
func (m *Manager) Recent(recipient string) []*Notification {
	var out []*Notification
	for _, item := range m.outbox.Items() {
		n := item.Object.(*Notification)
		if recipient == "" || n.Recipient == recipient {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
