package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

type emailCall struct {
	From, To, Subject, Body string
}

type fakeEmail struct {
	mu       sync.Mutex
	calls    []emailCall
	failures int
}

func (f *fakeEmail) SendEmail(_ context.Context, from, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, emailCall{from, to, subject, body})
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp unavailable")
	}
	return nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func reminderData() map[string]string {
	return map[string]string{
		"patient_name":   "Ayse Demir",
		"invoice_number": "INV-202603-0007",
		"due_date":       "2026-03-31",
		"balance":        "120.50",
		"currency":       "USD",
		"overdue_days":   "4",
	}
}

func TestTemplateEngine_Render(t *testing.T) {
	eng := NewTemplateEngine()
	tpl, err := eng.Render(TemplateOverdueReminder, reminderData())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tpl.Subject != "Invoice INV-202603-0007 is overdue" {
		t.Errorf("subject = %q", tpl.Subject)
	}
	if !strings.Contains(tpl.Body, "120.50 USD") || !strings.Contains(tpl.Body, "4 days overdue") {
		t.Errorf("body = %q", tpl.Body)
	}
}

func TestTemplateEngine_UnknownPlaceholderKept(t *testing.T) {
	eng := NewTemplateEngine()
	eng.Register(Template{ID: "x", Subject: "Hi {{name}}", Body: "{{missing}}", Channel: ChannelSMS})
	tpl, err := eng.Render("x", map[string]string{"name": "Bob"})
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Subject != "Hi Bob" || tpl.Body != "{{missing}}" {
		t.Errorf("unexpected render %+v", tpl)
	}
}

func TestTemplateEngine_Missing(t *testing.T) {
	if _, err := NewTemplateEngine().Render("nope", nil); err == nil {
		t.Fatal("expected error for missing template")
	}
}

func TestTemplateEngine_BuiltIns(t *testing.T) {
	eng := NewTemplateEngine()
	for _, id := range []string{TemplateOverdueReminder, TemplatePaymentReceipt, TemplateInvoiceVoided} {
		if _, err := eng.Render(id, nil); err != nil {
			t.Errorf("built-in %s: %v", id, err)
		}
	}
}

func TestManager_Send(t *testing.T) {
	email := &fakeEmail{}
	m := NewManager(Config{From: "billing@hospital.test"}, email, nil, nil, zerolog.Nop())

	n, err := m.Send(context.Background(), TemplatePaymentReceipt, "ayse@example.com", map[string]string{"invoice_number": "INV-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusSent || n.SentAt == nil || n.Attempts != 1 {
		t.Errorf("unexpected notification %+v", n)
	}
	if email.calls[0].From != "billing@hospital.test" {
		t.Errorf("from = %s", email.calls[0].From)
	}
	if got, ok := m.Get(n.ID); !ok || got != n {
		t.Error("expected notification in outbox")
	}
}

func TestManager_SendRetries(t *testing.T) {
	email := &fakeEmail{failures: 2}
	m := NewManager(Config{MaxAttempts: 3, RetryInterval: time.Millisecond}, email, nil, nil, zerolog.Nop())

	n, err := m.Send(context.Background(), TemplatePaymentReceipt, "a@b.c", nil)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if n.Attempts != 3 || email.count() != 3 {
		t.Errorf("expected 3 attempts, got %d (calls %d)", n.Attempts, email.count())
	}
}

func TestManager_SendGivesUp(t *testing.T) {
	email := &fakeEmail{failures: 10}
	m := NewManager(Config{MaxAttempts: 2, RetryInterval: time.Millisecond}, email, nil, nil, zerolog.Nop())

	n, err := m.Send(context.Background(), TemplatePaymentReceipt, "a@b.c", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if n.Status != StatusFailed || n.Error == "" {
		t.Errorf("unexpected notification %+v", n)
	}
	if email.count() != 2 {
		t.Errorf("expected 2 attempts, got %d", email.count())
	}
}

func TestManager_SendValidation(t *testing.T) {
	m := NewManager(Config{}, &fakeEmail{}, nil, nil, zerolog.Nop())
	if _, err := m.Send(context.Background(), TemplatePaymentReceipt, "", nil); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := m.Send(context.Background(), "nope", "a@b.c", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestManager_SMSWithoutSender(t *testing.T) {
	tpl := NewTemplateEngine()
	tpl.Register(Template{ID: "sms", Body: "hi", Channel: ChannelSMS})
	m := NewManager(Config{MaxAttempts: 1}, &fakeEmail{}, nil, tpl, zerolog.Nop())
	if _, err := m.Send(context.Background(), "sms", "+100", nil); err == nil {
		t.Error("expected error without sms sender")
	}
}

func TestManager_DispatchIsFireAndForget(t *testing.T) {
	email := &fakeEmail{failures: 100}
	m := NewManager(Config{MaxAttempts: 1}, email, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	m.Dispatch(ctx, TemplateOverdueReminder, "a@b.c", reminderData())
	m.Dispatch(ctx, TemplateOverdueReminder, "d@e.f", reminderData())
	cancel()
	m.Wait()

	if email.count() != 2 {
		t.Errorf("expected 2 delivery attempts, got %d", email.count())
	}
	if len(m.Recent("")) != 2 {
		t.Errorf("expected 2 retained notifications, got %d", len(m.Recent("")))
	}
	if len(m.Recent("a@b.c")) != 1 {
		t.Error("expected recipient filter to match one")
	}
}

func TestManager_RecentNewestFirst(t *testing.T) {
	m := NewManager(Config{}, &fakeEmail{}, nil, nil, zerolog.Nop())
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"n1", "n3", "n2"} {
		m.outbox.SetDefault(id, &Notification{ID: id, Recipient: "a@b.c", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	m.outbox.SetDefault("n0", &Notification{ID: "n0", Recipient: "a@b.c", CreatedAt: base.Add(2 * time.Minute)})

	var got []string
	for _, n := range m.Recent("a@b.c") {
		got = append(got, n.ID)
	}
	if strings.Join(got, ",") != "n0,n2,n3,n1" {
		t.Errorf("unexpected order %v", got)
	}
}

func TestHandler_GetAndList(t *testing.T) {
	m := NewManager(Config{}, &fakeEmail{}, nil, nil, zerolog.Nop())
	n, err := m.Send(context.Background(), TemplateInvoiceVoided, "a@b.c", nil)
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	api := e.Group("/api/v1")
	api.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), "u", []string{auth.RoleBilling})))
			return next(c)
		}
	})
	NewHandler(m).RegisterRoutes(api)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/"+n.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != n.ID {
		t.Errorf("expected id %s, got %s", n.ID, got.ID)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/notifications?recipient=a@b.c", nil))
	var list []Notification
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 notification, got %d", len(list))
	}
}
