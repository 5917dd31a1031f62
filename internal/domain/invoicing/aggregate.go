package invoicing

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

// Every operation below validates first and mutates only on success, so a
// failed call leaves the invoice exactly as it was.

func (inv *Invoice) recompute() {
	*inv = Recompute(*inv)
}

func (inv *Invoice) ensureOpen() error {
	if inv.Cancelled() {
		return errors.Wrapf(ErrAlreadyVoid, "invoice %s", inv.InvoiceNumber)
	}
	return nil
}

// normalizeItem fills defaults and checks a line item in isolation.
func normalizeItem(li LineItem) (LineItem, error) {
	fields := map[string]string{}
	if !validItemTypes[li.ItemType] {
		fields["item_type"] = "is invalid"
	}
	li.ItemName = strings.TrimSpace(li.ItemName)
	if li.ItemName == "" {
		fields["item_name"] = "is required"
	}
	if li.Quantity.IsZero() {
		li.Quantity = decimal.NewFromInt(1)
	}
	li.Quantity = li.Quantity.Round(4)
	if !li.Quantity.IsPositive() {
		fields["quantity"] = "must be greater than 0"
	}
	if li.UnitPrice.IsNegative() {
		fields["unit_price"] = "must be 0 or greater"
	}
	if li.DiscountAmount.IsNegative() {
		fields["discount_amount"] = "must be 0 or greater"
	}
	if len(fields) > 0 {
		return li, apperr.Validation(fields)
	}
	if li.ID == uuid.Nil {
		li.ID = uuid.New()
	}
	li.State = ItemActive
	li.RemovedAt = nil
	li.TotalPrice = lineTotal(li)
	return li, nil
}

func (inv *Invoice) AddLineItem(item LineItem) (LineItem, error) {
	if err := inv.ensureOpen(); err != nil {
		return LineItem{}, err
	}
	li, err := normalizeItem(item)
	if err != nil {
		return LineItem{}, err
	}
	if inv.findItem(li.ID) >= 0 {
		return LineItem{}, apperr.Invalid("id", "duplicates an existing line item")
	}
	inv.LineItems = append(inv.LineItems, li)
	inv.recompute()
	return inv.LineItems[len(inv.LineItems)-1], nil
}

// LineItemPatch carries the editable fields of a line item; nil leaves a
// field unchanged.
type LineItemPatch struct {
	ItemType       *ItemType
	ItemName       *string
	Description    *string
	Quantity       *decimal.Decimal
	UnitPrice      *decimal.Decimal
	DiscountAmount *decimal.Decimal
}

func (inv *Invoice) UpdateLineItem(id uuid.UUID, p LineItemPatch) (LineItem, error) {
	if err := inv.ensureOpen(); err != nil {
		return LineItem{}, err
	}
	i := inv.findItem(id)
	if i < 0 || !inv.LineItems[i].Active() {
		return LineItem{}, errors.Wrapf(ErrItemNotFound, "item %s", id)
	}
	li := inv.LineItems[i]
	if p.ItemType != nil {
		li.ItemType = *p.ItemType
	}
	if p.ItemName != nil {
		li.ItemName = *p.ItemName
	}
	if p.Description != nil {
		li.Description = *p.Description
	}
	if p.Quantity != nil {
		if p.Quantity.IsZero() {
			return LineItem{}, apperr.Invalid("quantity", "must be greater than 0")
		}
		li.Quantity = *p.Quantity
	}
	if p.UnitPrice != nil {
		li.UnitPrice = *p.UnitPrice
	}
	if p.DiscountAmount != nil {
		li.DiscountAmount = *p.DiscountAmount
	}
	li, err := normalizeItem(li)
	if err != nil {
		return LineItem{}, err
	}
	inv.LineItems[i] = li
	inv.recompute()
	return inv.LineItems[i], nil
}

// RemoveLineItem marks an item removed. The item stays on the invoice and
// the invoice must keep at least one active item.
func (inv *Invoice) RemoveLineItem(id uuid.UUID, at time.Time) error {
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	i := inv.findItem(id)
	if i < 0 || !inv.LineItems[i].Active() {
		return errors.Wrapf(ErrItemNotFound, "item %s", id)
	}
	if len(inv.ActiveItems()) == 1 {
		return apperr.Invalid("line_items", "invoice must keep at least one active item")
	}
	inv.LineItems[i].State = ItemRemoved
	inv.LineItems[i].RemovedAt = &at
	inv.recompute()
	return nil
}

func checkDiscount(t DiscountType, v decimal.Decimal) error {
	switch t {
	case DiscountPercentage:
		if v.IsNegative() || v.GreaterThan(hundred) {
			return apperr.Invalid("discount_value", "must be between 0 and 100 for a percentage discount")
		}
	case DiscountFixed:
		if v.IsNegative() {
			return apperr.Invalid("discount_value", "must be 0 or greater")
		}
	default:
		return apperr.Invalid("discount_type", "must be one of: percentage, fixed_amount")
	}
	return nil
}

func (inv *Invoice) ApplyDiscount(t DiscountType, value decimal.Decimal, reason string) error {
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	if err := checkDiscount(t, value); err != nil {
		return err
	}
	inv.DiscountType = t
	inv.DiscountValue = value
	inv.DiscountReason = reason
	inv.recompute()
	return nil
}

func checkTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return apperr.Invalid("tax_rate", "must be between 0 and 100")
	}
	return nil
}

func (inv *Invoice) SetTax(rate decimal.Decimal, exempt bool, reason string) error {
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	if err := checkTaxRate(rate); err != nil {
		return err
	}
	inv.TaxRate = rate
	inv.TaxExempt = exempt
	inv.TaxExemptReason = ""
	if exempt {
		inv.TaxExemptReason = reason
	}
	inv.recompute()
	return nil
}

func checkPayment(p Payment) error {
	fields := map[string]string{}
	if !p.Amount.IsPositive() {
		fields["amount"] = "must be greater than 0"
	}
	if !validPaymentMethods[p.PaymentMethod] {
		fields["payment_method"] = "is invalid"
	}
	if strings.TrimSpace(p.ReceivedBy) == "" {
		fields["received_by"] = "is required"
	}
	if p.Status != LedgerPending && p.Status != LedgerCompleted {
		fields["status"] = "must be one of: pending, completed"
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

func (inv *Invoice) checkBalance(amount decimal.Decimal) error {
	if money(amount).GreaterThan(inv.RemainingBalance) {
		return errors.Wrapf(ErrOverpayment, "amount %s, remaining balance %s",
			money(amount).StringFixed(2), inv.RemainingBalance.StringFixed(2))
	}
	return nil
}

// AddPayment appends p to the ledger. Status defaults to completed and the
// payment date to at. Overpayment is rejected rather than recorded.
func (inv *Invoice) AddPayment(p Payment, at time.Time) (Payment, error) {
	if err := inv.ensureOpen(); err != nil {
		return Payment{}, err
	}
	if p.Status == "" {
		p.Status = LedgerCompleted
	}
	if err := checkPayment(p); err != nil {
		return Payment{}, err
	}
	if err := inv.checkBalance(p.Amount); err != nil {
		return Payment{}, err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = at
	}
	p.Amount = money(p.Amount)
	inv.Payments = append(inv.Payments, p)
	inv.settle(at)
	return inv.Payments[len(inv.Payments)-1], nil
}

// settle recomputes and stamps PaidAt on the transition into paid.
func (inv *Invoice) settle(at time.Time) {
	wasPaid := inv.PaymentStatus == PaymentPaid
	inv.recompute()
	switch {
	case inv.PaymentStatus == PaymentPaid && !wasPaid:
		inv.PaidAt = &at
	case inv.PaymentStatus != PaymentPaid:
		inv.PaidAt = nil
	}
}

// MarkAsPaid records a completed payment for the whole remaining balance.
func (inv *Invoice) MarkAsPaid(method PaymentMethod, receivedBy string, at time.Time) (Payment, error) {
	if err := inv.ensureOpen(); err != nil {
		return Payment{}, err
	}
	if inv.PaymentStatus == PaymentPaid {
		return Payment{}, errors.Wrapf(ErrAlreadyPaid, "invoice %s", inv.InvoiceNumber)
	}
	if !inv.RemainingBalance.IsPositive() {
		return Payment{}, errors.Wrapf(ErrNothingDue, "invoice %s", inv.InvoiceNumber)
	}
	return inv.AddPayment(Payment{
		Amount:        inv.RemainingBalance,
		PaymentMethod: method,
		ReceivedBy:    receivedBy,
		Status:        LedgerCompleted,
		Notes:         "marked as paid",
	}, at)
}

// UpdatePaymentStatus settles a pending payment. Completing it is subject to
// the same overpayment rule as a new payment.
func (inv *Invoice) UpdatePaymentStatus(paymentID uuid.UUID, to LedgerStatus, at time.Time) (Payment, error) {
	if err := inv.ensureOpen(); err != nil {
		return Payment{}, err
	}
	switch to {
	case LedgerCompleted, LedgerFailed, LedgerRefunded:
	default:
		return Payment{}, apperr.Invalid("status", "must be one of: completed, failed, refunded")
	}
	i := inv.findPayment(paymentID)
	if i < 0 {
		return Payment{}, errors.Wrapf(ErrPaymentNotFound, "payment %s", paymentID)
	}
	p := inv.Payments[i]
	if p.Status != LedgerPending {
		return Payment{}, errors.Wrapf(ErrPaymentSettled, "payment %s is %s", paymentID, p.Status)
	}
	if to == LedgerCompleted {
		if err := inv.checkBalance(p.Amount); err != nil {
			return Payment{}, err
		}
	}
	inv.Payments[i].Status = to
	inv.Payments[i].UpdatedAt = &at
	inv.settle(at)
	return inv.Payments[i], nil
}

// VoidNote is appended to the notes of a cancelled invoice.
func VoidNote(reason string) string {
	return "Voided: " + strings.TrimSpace(reason)
}

// Void cancels the invoice. Paid invoices can only be refunded, which is
// handled outside this package.
func (inv *Invoice) Void(reason string, at time.Time) error {
	if inv.PaymentStatus == PaymentPaid {
		return errors.Wrapf(ErrAlreadyPaid, "invoice %s", inv.InvoiceNumber)
	}
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return apperr.Invalid("reason", "is required")
	}
	inv.Status = StatusCancelled
	inv.PaymentStatus = PaymentCancelled
	if inv.Notes != "" {
		inv.Notes += "\n"
	}
	inv.Notes += VoidNote(reason)
	inv.CancelledAt = &at
	inv.recompute()
	return nil
}

func (inv *Invoice) MarkSent(at time.Time) error {
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	if inv.Status == StatusDraft {
		inv.Status = StatusSent
	}
	if inv.SentAt == nil {
		inv.SentAt = &at
	}
	inv.recompute()
	return nil
}

func (inv *Invoice) MarkViewed(at time.Time) error {
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	if inv.Status == StatusDraft || inv.Status == StatusSent {
		inv.Status = StatusViewed
	}
	if inv.SentAt == nil {
		inv.SentAt = &at
	}
	if inv.ViewedAt == nil {
		inv.ViewedAt = &at
	}
	inv.recompute()
	return nil
}

// MarkOverdue moves a sent or viewed invoice past its due date to overdue and
// reports whether it changed.
func (inv *Invoice) MarkOverdue(asOf time.Time) bool {
	if inv.Status != StatusSent && inv.Status != StatusViewed {
		return false
	}
	if !inv.Outstanding(asOf) {
		return false
	}
	inv.Status = StatusOverdue
	if inv.OverdueAt == nil {
		inv.OverdueAt = &asOf
	}
	inv.recompute()
	return true
}

// Duplicate returns a new draft with the same parties, policies and active
// line items, no payments and no number. The caller allocates the number.
func (inv *Invoice) Duplicate(at time.Time, dueDays int) Invoice {
	dup := Invoice{
		ID:              uuid.New(),
		PatientID:       inv.PatientID,
		DoctorID:        inv.DoctorID,
		AppointmentID:   inv.AppointmentID,
		InvoiceType:     inv.InvoiceType,
		Category:        inv.Category,
		IssueDate:       at,
		DueDate:         at.AddDate(0, 0, dueDays),
		ServicePeriod:   inv.ServicePeriod,
		Currency:        inv.Currency,
		ExchangeRate:    inv.ExchangeRate,
		DiscountType:    inv.DiscountType,
		DiscountValue:   inv.DiscountValue,
		DiscountReason:  inv.DiscountReason,
		TaxRate:         inv.TaxRate,
		TaxExempt:       inv.TaxExempt,
		TaxExemptReason: inv.TaxExemptReason,
		Payments:        []Payment{},
		PaymentStatus:   PaymentUnpaid,
		Status:          StatusDraft,
	}
	for _, li := range inv.ActiveItems() {
		li.ID = uuid.New()
		dup.LineItems = append(dup.LineItems, li)
	}
	return Recompute(dup)
}

// Patch carries the editable header fields of an invoice.
type Patch struct {
	DoctorID      *uuid.UUID
	AppointmentID *uuid.UUID
	InvoiceType   *InvoiceType
	Category      *string
	IssueDate     *time.Time
	DueDate       *time.Time
	ServicePeriod *ServicePeriod
	Currency      *string
	ExchangeRate  *decimal.Decimal
	Notes         *string
}

func checkDates(issue, due time.Time, period *ServicePeriod) map[string]string {
	fields := map[string]string{}
	if due.Before(issue) {
		fields["due_date"] = "must not be before issue_date"
	}
	if period != nil && period.EndDate.Before(period.StartDate) {
		fields["service_period.end_date"] = "must not be before start_date"
	}
	return fields
}

// ApplyPatch updates header fields. Dates are validated together so a patch
// can move both without passing through an invalid state.
func (inv *Invoice) ApplyPatch(p Patch) error {
	if err := inv.ensureOpen(); err != nil {
		return err
	}
	next := *inv
	if p.DoctorID != nil {
		next.DoctorID = p.DoctorID
	}
	if p.AppointmentID != nil {
		next.AppointmentID = p.AppointmentID
	}
	if p.InvoiceType != nil {
		if !validInvoiceTypes[*p.InvoiceType] {
			return apperr.Invalid("invoice_type", "is invalid")
		}
		next.InvoiceType = *p.InvoiceType
	}
	if p.Category != nil {
		next.Category = *p.Category
	}
	if p.IssueDate != nil {
		next.IssueDate = *p.IssueDate
	}
	if p.DueDate != nil {
		next.DueDate = *p.DueDate
	}
	if p.ServicePeriod != nil {
		next.ServicePeriod = p.ServicePeriod
	}
	if p.Currency != nil {
		next.Currency = strings.ToUpper(*p.Currency)
	}
	if p.ExchangeRate != nil {
		if !p.ExchangeRate.IsPositive() {
			return apperr.Invalid("exchange_rate", "must be greater than 0")
		}
		next.ExchangeRate = *p.ExchangeRate
	}
	if p.Notes != nil {
		next.Notes = *p.Notes
	}
	if fields := checkDates(next.IssueDate, next.DueDate, next.ServicePeriod); len(fields) > 0 {
		return apperr.Validation(fields)
	}
	*inv = Recompute(next)
	return nil
}
