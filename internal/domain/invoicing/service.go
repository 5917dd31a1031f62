package invoicing

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/hms/hms/internal/domain/directory"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notification"
	"github.com/hms/hms/internal/platform/validate"
)

// NumberAllocator hands out unique invoice numbers per calendar month.
type NumberAllocator interface {
	Next(ctx context.Context, t time.Time) (string, error)
	Scope(t time.Time) string
	Prefix() string
	Width() int
}

// Notifier delivers patient messages in the background.
type Notifier interface {
	Dispatch(ctx context.Context, templateID, recipient string, data map[string]string)
}

type Config struct {
	DueDays         int
	DefaultTaxRate  decimal.Decimal
	DefaultCurrency string
	// RetryAttempts bounds number-collision and version-conflict retries.
	RetryAttempts int
	RetryInterval time.Duration
	BulkWorkers   int
}

type Service struct {
	repo    Repository
	numbers NumberAllocator
	dir     directory.Store
	notify  Notifier
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, numbers NumberAllocator, dir directory.Store, notify Notifier, cfg Config, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.DueDays <= 0 {
		cfg.DueDays = 30
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 25 * time.Millisecond
	}
	if cfg.BulkWorkers < 1 {
		cfg.BulkWorkers = 4
	}
	s := &Service{
		repo:    repo,
		numbers: numbers,
		dir:     dir,
		notify:  notify,
		cfg:     cfg,
		logger:  logger.With().Str("component", "invoicing").Logger(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// log prefers the request-scoped logger carried by ctx.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func (s *Service) retryPolicy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval
	b.MaxInterval = 20 * s.cfg.RetryInterval
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.RetryAttempts-1)), ctx)
}

// insert allocates a number and stores inv, retrying with a fresh number if
// another writer took it first.
func (s *Service) insert(ctx context.Context, inv *Invoice) error {
	// Number allocation and the insert share a transaction so a failed
	// insert does not consume a number. A collision is rolled back to a
	// savepoint and the counter advance is kept, so the retry moves on.
	op := func() error {
		taken := false
		err := db.InTx(ctx, func(ctx context.Context) error {
			number, err := s.numbers.Next(ctx, inv.IssueDate)
			if err != nil {
				return err
			}
			inv.InvoiceNumber = number
			err = db.InTx(ctx, func(ctx context.Context) error { return s.repo.Create(ctx, inv) })
			if errors.Is(err, ErrNumberTaken) {
				s.log(ctx).Warn().Str("invoice_number", number).Msg("invoice number collision, retrying")
				taken = true
				return nil
			}
			return err
		})
		if err != nil {
			return backoff.Permanent(err)
		}
		if taken {
			return errors.Wrapf(ErrNumberTaken, "%s", inv.InvoiceNumber)
		}
		return nil
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return err
	}
	s.log(ctx).Info().
		Str("invoice_id", inv.ID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("total", inv.TotalAmount.StringFixed(2)).
		Msg("invoice created")
	return nil
}

// mutate runs fn against the freshest stored copy and writes the result.
// A concurrent write makes the update fail on version; the whole
// read-modify-write is then retried.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(inv *Invoice, now time.Time) error) (*Invoice, error) {
	var out *Invoice
	op := func() error {
		inv, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		now := s.now()
		if err := fn(inv, now); err != nil {
			return backoff.Permanent(err)
		}
		inv.UpdatedAt = now
		err = s.repo.Update(ctx, inv)
		if errors.Is(err, ErrVersionConflict) {
			s.log(ctx).Debug().Str("invoice_id", id.String()).Msg("version conflict, retrying")
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		out = inv
		return nil
	}
	if err := backoff.Retry(op, s.retryPolicy(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func prefixFields(err error, prefix string) error {
	fields := apperr.Fields(err)
	if fields == nil {
		return err
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[prefix+k] = v
	}
	return apperr.Validation(out)
}

func buildItems(reqs []LineItemRequest) ([]LineItem, error) {
	items := make([]LineItem, 0, len(reqs))
	for i, r := range reqs {
		li, err := normalizeItem(r.toLineItem())
		if err != nil {
			return nil, prefixFields(err, fmt.Sprintf("line_items[%d].", i))
		}
		items = append(items, li)
	}
	return items, nil
}

func (s *Service) CreateInvoice(ctx context.Context, req CreateInvoiceRequest, createdBy string) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if _, err := s.dir.Patient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	if req.DoctorID != nil {
		if _, err := s.dir.Doctor(ctx, *req.DoctorID); err != nil {
			return nil, err
		}
	}
	if req.AppointmentID != nil {
		appt, err := s.dir.Appointment(ctx, *req.AppointmentID)
		if err != nil {
			return nil, err
		}
		if appt.PatientID != req.PatientID {
			return nil, apperr.Invalid("appointment_id", "belongs to a different patient")
		}
	}

	items, err := buildItems(req.LineItems)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inv := &Invoice{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		AppointmentID:   req.AppointmentID,
		InvoiceType:     req.InvoiceType,
		Category:        req.Category,
		IssueDate:       now,
		ServicePeriod:   req.ServicePeriod.toPeriod(),
		Currency:        s.cfg.DefaultCurrency,
		ExchangeRate:    decimal.NewFromInt(1),
		LineItems:       items,
		DiscountType:    DiscountNone,
		TaxRate:         s.cfg.DefaultTaxRate,
		TaxExempt:       req.TaxExempt,
		TaxExemptReason: req.TaxExemptReason,
		Payments:        []Payment{},
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusDraft,
		Notes:           req.Notes,
		CreatedBy:       createdBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.IssueDate != nil {
		inv.IssueDate = *req.IssueDate
	}
	inv.DueDate = inv.IssueDate.AddDate(0, 0, s.cfg.DueDays)
	if req.DueDate != nil {
		inv.DueDate = *req.DueDate
	}
	if fields := checkDates(inv.IssueDate, inv.DueDate, inv.ServicePeriod); len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	if req.Currency != "" {
		inv.Currency = strings.ToUpper(req.Currency)
	}
	if req.ExchangeRate != nil {
		inv.ExchangeRate = *req.ExchangeRate
	}
	if req.DiscountType != "" && req.DiscountType != DiscountNone {
		if err := checkDiscount(req.DiscountType, req.DiscountValue); err != nil {
			return nil, err
		}
		inv.DiscountType = req.DiscountType
		inv.DiscountValue = req.DiscountValue
		inv.DiscountReason = req.DiscountReason
	}
	if req.TaxRate != nil {
		inv.TaxRate = *req.TaxRate
	}
	*inv = Recompute(*inv)

	if err := s.insert(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateFromAppointment bills an appointment for its patient and doctor.
func (s *Service) CreateFromAppointment(ctx context.Context, req CreateFromAppointmentRequest, createdBy string) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	appt, err := s.dir.Appointment(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	doctor, err := s.dir.Doctor(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}

	items := req.LineItems
	if len(items) == 0 {
		fee := doctor.ConsultationFee
		if appt.Fee.Valid {
			fee = appt.Fee.Decimal
		}
		items = []LineItemRequest{{
			ItemType:    ItemConsultation,
			ItemName:    "Consultation - " + doctor.FullName(),
			Description: fmt.Sprintf("%s appointment on %s", appt.AppointmentType, appt.ScheduledAt.Format("2006-01-02 15:04")),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   fee,
		}}
	}
	invoiceType := req.InvoiceType
	if invoiceType == "" {
		invoiceType = TypeConsultation
	}
	end := appt.ScheduledAt.Add(time.Duration(appt.DurationMinutes) * time.Minute)

	return s.CreateInvoice(ctx, CreateInvoiceRequest{
		PatientID:     appt.PatientID,
		DoctorID:      &appt.DoctorID,
		AppointmentID: &appt.ID,
		InvoiceType:   invoiceType,
		DueDate:       req.DueDate,
		ServicePeriod: &ServicePeriodRequest{StartDate: appt.ScheduledAt, EndDate: end},
		LineItems:     items,
		DiscountType:  req.DiscountType,
		DiscountValue: req.DiscountValue,
		TaxRate:       req.TaxRate,
		TaxExempt:     req.TaxExempt,
		Notes:         req.Notes,
	}, createdBy)
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetInvoiceByNumber(ctx context.Context, number string) (*Invoice, error) {
	return s.repo.GetByNumber(ctx, number)
}

func (s *Service) ListInvoices(ctx context.Context, f Filter) ([]*Invoice, int, error) {
	fields := map[string]string{}
	if f.Status != "" && !validStatuses[f.Status] {
		fields["status"] = "is invalid"
	}
	if f.PaymentStatus != "" && !validPaymentStatuses[f.PaymentStatus] {
		fields["payment_status"] = "is invalid"
	}
	if f.IssuedFrom != nil && f.IssuedTo != nil && f.IssuedTo.Before(*f.IssuedFrom) {
		fields["issued_to"] = "must not be before issued_from"
	}
	if len(fields) > 0 {
		return nil, 0, apperr.Validation(fields)
	}
	return s.repo.List(ctx, f)
}

func (s *Service) UpdateInvoice(ctx context.Context, id uuid.UUID, req UpdateInvoiceRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.DoctorID != nil {
		if _, err := s.dir.Doctor(ctx, *req.DoctorID); err != nil {
			return nil, err
		}
	}
	if req.AppointmentID != nil {
		if _, err := s.dir.Appointment(ctx, *req.AppointmentID); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, id, func(inv *Invoice, _ time.Time) error {
		return inv.ApplyPatch(req.toPatch())
	})
}

// DeleteInvoice removes an invoice that has never received money. Anything
// else must be voided instead.
func (s *Service) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.HasCompletedPayment() || inv.PaymentStatus == PaymentPaid {
		return errors.Wrapf(ErrDeleteRejected, "invoice %s", inv.InvoiceNumber)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log(ctx).Info().Str("invoice_number", inv.InvoiceNumber).Msg("invoice deleted")
	return nil
}

func (s *Service) AddLineItem(ctx context.Context, id uuid.UUID, req LineItemRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(inv *Invoice, _ time.Time) error {
		_, err := inv.AddLineItem(req.toLineItem())
		return err
	})
}

func (s *Service) UpdateLineItem(ctx context.Context, id, itemID uuid.UUID, req UpdateLineItemRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(inv *Invoice, _ time.Time) error {
		_, err := inv.UpdateLineItem(itemID, LineItemPatch{
			ItemType:       req.ItemType,
			ItemName:       req.ItemName,
			Description:    req.Description,
			Quantity:       req.Quantity,
			UnitPrice:      req.UnitPrice,
			DiscountAmount: req.DiscountAmount,
		})
		return err
	})
}

func (s *Service) RemoveLineItem(ctx context.Context, id, itemID uuid.UUID) (*Invoice, error) {
	return s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		return inv.RemoveLineItem(itemID, now)
	})
}

func (s *Service) ApplyDiscount(ctx context.Context, id uuid.UUID, req ApplyDiscountRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(inv *Invoice, _ time.Time) error {
		return inv.ApplyDiscount(req.DiscountType, req.DiscountValue, req.Reason)
	})
}

func (s *Service) SetTax(ctx context.Context, id uuid.UUID, req SetTaxRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(inv *Invoice, _ time.Time) error {
		return inv.SetTax(req.TaxRate, req.TaxExempt, req.Reason)
	})
}

func (s *Service) AddPayment(ctx context.Context, id uuid.UUID, req AddPaymentRequest) (*Invoice, *Payment, error) {
	if err := validate.Struct(req); err != nil {
		return nil, nil, err
	}
	var recorded Payment
	inv, err := s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		p, err := inv.AddPayment(req.toPayment(), now)
		recorded = p
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.paymentRecorded(ctx, inv, recorded)
	return inv, &recorded, nil
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, id, paymentID uuid.UUID, req UpdatePaymentStatusRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	var updated Payment
	inv, err := s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		p, err := inv.UpdatePaymentStatus(paymentID, req.Status, now)
		updated = p
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("payment_id", paymentID.String()).
		Str("status", string(req.Status)).
		Msg("payment status updated")
	if updated.Status == LedgerCompleted {
		s.paymentRecorded(ctx, inv, updated)
	}
	return inv, nil
}

func (s *Service) MarkAsPaid(ctx context.Context, id uuid.UUID, req MarkPaidRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	var recorded Payment
	inv, err := s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		p, err := inv.MarkAsPaid(req.PaymentMethod, req.ReceivedBy, now)
		recorded = p
		return err
	})
	if err != nil {
		return nil, err
	}
	s.paymentRecorded(ctx, inv, recorded)
	return inv, nil
}

func (s *Service) VoidInvoice(ctx context.Context, id uuid.UUID, req VoidRequest) (*Invoice, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	inv, err := s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		return inv.Void(req.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.log(ctx).Info().Str("invoice_number", inv.InvoiceNumber).Str("reason", req.Reason).Msg("invoice voided")
	s.notifyPatient(ctx, inv, notification.TemplateInvoiceVoided, map[string]string{"reason": req.Reason})
	return inv, nil
}

// DuplicateInvoice copies an invoice into a new draft with a fresh number.
func (s *Service) DuplicateInvoice(ctx context.Context, id uuid.UUID, createdBy string) (*Invoice, error) {
	src, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	dup := src.Duplicate(now, s.cfg.DueDays)
	dup.CreatedBy = createdBy
	dup.CreatedAt = now
	dup.UpdatedAt = now
	if err := s.insert(ctx, &dup); err != nil {
		return nil, err
	}
	return &dup, nil
}

func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		return inv.MarkSent(now)
	})
}

func (s *Service) MarkViewed(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.mutate(ctx, id, func(inv *Invoice, now time.Time) error {
		return inv.MarkViewed(now)
	})
}

// BulkAddPayments records each payment independently on a bounded worker
// pool. One failure never affects the others.
func (s *Service) BulkAddPayments(ctx context.Context, req BulkPaymentRequest) ([]BulkPaymentResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	results := make([]BulkPaymentResult, len(req.Payments))
	p := pool.New().WithMaxGoroutines(db.MaxParallel(ctx, s.cfg.BulkWorkers))
	for i, item := range req.Payments {
		i, item := i, item
		p.Go(func() {
			res := BulkPaymentResult{Index: i, InvoiceID: item.InvoiceID}
			_, payment, err := s.AddPayment(ctx, item.InvoiceID, item.Payment)
			if err != nil {
				res.Error = err.Error()
				res.Code, _ = apperr.Classify(err)
			} else {
				res.OK = true
				res.Payment = payment
			}
			results[i] = res
		})
	}
	p.Wait()

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	s.log(ctx).Info().Int("total", len(results)).Int("failed", failed).Msg("bulk payments processed")
	return results, nil
}

type ReminderSummary struct {
	Checked       int `json:"checked"`
	MarkedOverdue int `json:"marked_overdue"`
	Reminded      int `json:"reminded"`
}

// SendOverdueReminders marks sent or viewed invoices past due as overdue and
// sends each patient a reminder. Delivery failures are only logged.
func (s *Service) SendOverdueReminders(ctx context.Context, asOf time.Time) (ReminderSummary, error) {
	invs, _, err := s.repo.List(ctx, Filter{DueBefore: &asOf})
	if err != nil {
		return ReminderSummary{}, err
	}
	due := OverdueInvoices(invs, asOf)

	var marked, reminded atomic.Int64
	p := pool.New().WithMaxGoroutines(db.MaxParallel(ctx, s.cfg.BulkWorkers)).WithErrors().WithContext(ctx)
	for _, o := range due {
		o := o
		if o.Status == StatusDraft {
			continue
		}
		p.Go(func(ctx context.Context) error {
			inv := o.Invoice
			if o.Status == StatusSent || o.Status == StatusViewed {
				var changed bool
				updated, err := s.mutate(ctx, o.ID, func(inv *Invoice, _ time.Time) error {
					changed = inv.MarkOverdue(asOf)
					return nil
				})
				if err != nil {
					return errors.Wrapf(err, "mark %s overdue", o.InvoiceNumber)
				}
				inv = updated
				if changed {
					marked.Add(1)
				}
			}
			if s.notifyPatient(ctx, inv, notification.TemplateOverdueReminder, map[string]string{
				"due_date":     inv.DueDate.Format("2006-01-02"),
				"overdue_days": fmt.Sprint(o.OverdueDays),
			}) {
				reminded.Add(1)
			}
			return nil
		})
	}
	err = p.Wait()

	summary := ReminderSummary{Checked: len(due), MarkedOverdue: int(marked.Load()), Reminded: int(reminded.Load())}
	s.log(ctx).Info().
		Int("checked", summary.Checked).
		Int("marked_overdue", summary.MarkedOverdue).
		Int("reminded", summary.Reminded).
		Msg("overdue reminders processed")
	return summary, err
}

// PreviewNextNumber returns the number the next invoice issued at t would
// most likely receive, without allocating it.
func (s *Service) PreviewNextNumber(ctx context.Context, t time.Time) (string, error) {
	existing, err := s.repo.NumbersInScope(ctx, s.numbers.Scope(t))
	if err != nil {
		return "", err
	}
	return nextNumber(s.numbers.Prefix(), s.numbers.Width(), t, existing), nil
}

func (s *Service) paymentRecorded(ctx context.Context, inv *Invoice, p Payment) {
	s.log(ctx).Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("payment_id", p.ID.String()).
		Str("amount", p.Amount.StringFixed(2)).
		Str("payment_status", string(inv.PaymentStatus)).
		Msg("payment recorded")
	if p.Status != LedgerCompleted {
		return
	}
	s.notifyPatient(ctx, inv, notification.TemplatePaymentReceipt, map[string]string{
		"amount": p.Amount.StringFixed(2),
		"method": string(p.PaymentMethod),
	})
}

// notifyPatient dispatches templateID to the patient's email, if any, and
// reports whether a message was handed off.
func (s *Service) notifyPatient(ctx context.Context, inv *Invoice, templateID string, extra map[string]string) bool {
	if s.notify == nil {
		return false
	}
	patient, err := s.dir.Patient(ctx, inv.PatientID)
	if err != nil {
		s.log(ctx).Warn().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("patient lookup for notification failed")
		return false
	}
	if patient.Email == "" {
		return false
	}
	data := map[string]string{
		"patient_name":   patient.FullName(),
		"invoice_number": inv.InvoiceNumber,
		"balance":        inv.RemainingBalance.StringFixed(2),
		"currency":       inv.Currency,
	}
	for k, v := range extra {
		data[k] = v
	}
	s.notify.Dispatch(ctx, templateID, patient.Email, data)
	return true
}

// reportable loads the invoices issued within [from, to] that count towards
// revenue. Cancelled invoices are left out.
func (s *Service) reportable(ctx context.Context, from, to *time.Time) ([]*Invoice, error) {
	invs, _, err := s.repo.List(ctx, Filter{IssuedFrom: from, IssuedTo: to})
	if err != nil {
		return nil, err
	}
	out := invs[:0]
	for _, inv := range invs {
		if !inv.Cancelled() {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *Service) RevenueReport(ctx context.Context, start, end time.Time, g GroupBy) ([]RevenueRow, error) {
	invs, err := s.reportable(ctx, &start, &end)
	if err != nil {
		return nil, err
	}
	return RevenueByPeriod(invs, start, end, g)
}

func (s *Service) OverdueReport(ctx context.Context, asOf time.Time) ([]OverdueInvoice, error) {
	invs, _, err := s.repo.List(ctx, Filter{DueBefore: &asOf})
	if err != nil {
		return nil, err
	}
	return OverdueInvoices(invs, asOf), nil
}

// RevenueByDoctor fills doctor names where the lookup succeeds.
func (s *Service) RevenueByDoctor(ctx context.Context, from, to *time.Time) ([]DoctorRevenue, error) {
	invs, err := s.reportable(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rows := RevenueByDoctor(invs)
	for i := range rows {
		if rows[i].DoctorID == nil {
			continue
		}
		if d, err := s.dir.Doctor(ctx, *rows[i].DoctorID); err == nil {
			rows[i].DoctorName = d.FullName()
		}
	}
	return rows, nil
}

func (s *Service) RevenueByService(ctx context.Context, from, to *time.Time) ([]ServiceRevenue, error) {
	invs, err := s.reportable(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return RevenueByService(invs), nil
}

func (s *Service) TopPatients(ctx context.Context, from, to *time.Time, limit int) ([]PatientRevenue, error) {
	invs, err := s.reportable(ctx, from, to)
	if err != nil {
		return nil, err
	}
	rows := TopPatientsByRevenue(invs, limit)
	for i := range rows {
		if p, err := s.dir.Patient(ctx, rows[i].PatientID); err == nil {
			rows[i].PatientName = p.FullName()
		}
	}
	return rows, nil
}

type CollectionSummary struct {
	TotalBilled    decimal.Decimal `json:"total_billed"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	Rate           decimal.Decimal `json:"collection_rate"`
}

func (s *Service) CollectionRate(ctx context.Context, from, to *time.Time) (CollectionSummary, error) {
	invs, err := s.reportable(ctx, from, to)
	if err != nil {
		return CollectionSummary{}, err
	}
	t := sumTotals(invs)
	return CollectionSummary{
		TotalBilled:    t.TotalAmount,
		TotalCollected: t.AmountPaid,
		Outstanding:    t.RemainingBalance,
		Rate:           CollectionRate(invs),
	}, nil
}
