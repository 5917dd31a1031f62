package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LineItemRequest struct {
	ItemType       ItemType        `json:"item_type" validate:"required,oneof=service consultation procedure medication laboratory radiology room equipment supply other"`
	ItemName       string          `json:"item_name" validate:"required,max=200"`
	Description    string          `json:"description" validate:"max=1000"`
	Quantity       decimal.Decimal `json:"quantity" validate:"gte=0"`
	UnitPrice      decimal.Decimal `json:"unit_price" validate:"gte=0"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"gte=0"`
}

func (r LineItemRequest) toLineItem() LineItem {
	return LineItem{
		ItemType:       r.ItemType,
		ItemName:       r.ItemName,
		Description:    r.Description,
		Quantity:       r.Quantity,
		UnitPrice:      r.UnitPrice,
		DiscountAmount: r.DiscountAmount,
	}
}

type UpdateLineItemRequest struct {
	ItemType       *ItemType        `json:"item_type" validate:"omitempty,oneof=service consultation procedure medication laboratory radiology room equipment supply other"`
	ItemName       *string          `json:"item_name" validate:"omitempty,max=200"`
	Description    *string          `json:"description" validate:"omitempty,max=1000"`
	Quantity       *decimal.Decimal `json:"quantity" validate:"omitempty,gt=0"`
	UnitPrice      *decimal.Decimal `json:"unit_price" validate:"omitempty,gte=0"`
	DiscountAmount *decimal.Decimal `json:"discount_amount" validate:"omitempty,gte=0"`
}

type ServicePeriodRequest struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

func (r *ServicePeriodRequest) toPeriod() *ServicePeriod {
	if r == nil {
		return nil
	}
	return &ServicePeriod{StartDate: r.StartDate, EndDate: r.EndDate}
}

type CreateInvoiceRequest struct {
	PatientID       uuid.UUID             `json:"patient_id" validate:"required"`
	DoctorID        *uuid.UUID            `json:"doctor_id"`
	AppointmentID   *uuid.UUID            `json:"appointment_id"`
	InvoiceType     InvoiceType           `json:"invoice_type" validate:"required,oneof=consultation procedure surgery laboratory radiology pharmacy hospitalization emergency outpatient inpatient equipment supplies miscellaneous"`
	Category        string                `json:"category" validate:"max=100"`
	IssueDate       *time.Time            `json:"issue_date"`
	DueDate         *time.Time            `json:"due_date"`
	ServicePeriod   *ServicePeriodRequest `json:"service_period"`
	Currency        string                `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate    *decimal.Decimal      `json:"exchange_rate" validate:"omitempty,gt=0"`
	LineItems       []LineItemRequest     `json:"line_items" validate:"required,min=1,dive"`
	DiscountType    DiscountType          `json:"discount_type" validate:"omitempty,oneof=none fixed_amount percentage"`
	DiscountValue   decimal.Decimal       `json:"discount_value" validate:"gte=0"`
	DiscountReason  string                `json:"discount_reason" validate:"max=500"`
	TaxRate         *decimal.Decimal      `json:"tax_rate" validate:"omitempty,gte=0,lte=100"`
	TaxExempt       bool                  `json:"tax_exempt"`
	TaxExemptReason string                `json:"tax_exempt_reason" validate:"max=500"`
	Notes           string                `json:"notes" validate:"max=2000"`
}

// CreateFromAppointmentRequest bills an appointment. Without line items a
// single consultation line is created from the appointment or doctor fee.
type CreateFromAppointmentRequest struct {
	AppointmentID uuid.UUID         `json:"appointment_id" validate:"required"`
	InvoiceType   InvoiceType       `json:"invoice_type" validate:"omitempty,oneof=consultation procedure surgery laboratory radiology pharmacy hospitalization emergency outpatient inpatient equipment supplies miscellaneous"`
	DueDate       *time.Time        `json:"due_date"`
	LineItems     []LineItemRequest `json:"line_items" validate:"omitempty,dive"`
	DiscountType  DiscountType      `json:"discount_type" validate:"omitempty,oneof=none fixed_amount percentage"`
	DiscountValue decimal.Decimal   `json:"discount_value" validate:"gte=0"`
	TaxRate       *decimal.Decimal  `json:"tax_rate" validate:"omitempty,gte=0,lte=100"`
	TaxExempt     bool              `json:"tax_exempt"`
	Notes         string            `json:"notes" validate:"max=2000"`
}

type UpdateInvoiceRequest struct {
	DoctorID      *uuid.UUID            `json:"doctor_id"`
	AppointmentID *uuid.UUID            `json:"appointment_id"`
	InvoiceType   *InvoiceType          `json:"invoice_type" validate:"omitempty,oneof=consultation procedure surgery laboratory radiology pharmacy hospitalization emergency outpatient inpatient equipment supplies miscellaneous"`
	Category      *string               `json:"category" validate:"omitempty,max=100"`
	IssueDate     *time.Time            `json:"issue_date"`
	DueDate       *time.Time            `json:"due_date"`
	ServicePeriod *ServicePeriodRequest `json:"service_period"`
	Currency      *string               `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate  *decimal.Decimal      `json:"exchange_rate" validate:"omitempty,gt=0"`
	Notes         *string               `json:"notes" validate:"omitempty,max=2000"`
}

func (r UpdateInvoiceRequest) toPatch() Patch {
	return Patch{
		DoctorID:      r.DoctorID,
		AppointmentID: r.AppointmentID,
		InvoiceType:   r.InvoiceType,
		Category:      r.Category,
		IssueDate:     r.IssueDate,
		DueDate:       r.DueDate,
		ServicePeriod: r.ServicePeriod.toPeriod(),
		Currency:      r.Currency,
		ExchangeRate:  r.ExchangeRate,
		Notes:         r.Notes,
	}
}

type ApplyDiscountRequest struct {
	DiscountType  DiscountType    `json:"discount_type" validate:"required,oneof=percentage fixed_amount"`
	DiscountValue decimal.Decimal `json:"discount_value" validate:"gte=0"`
	Reason        string          `json:"reason" validate:"max=500"`
}

type SetTaxRequest struct {
	TaxRate   decimal.Decimal `json:"tax_rate" validate:"gte=0,lte=100"`
	TaxExempt bool            `json:"tax_exempt"`
	Reason    string          `json:"reason" validate:"max=500"`
}

type AddPaymentRequest struct {
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod   PaymentMethod   `json:"payment_method" validate:"required,oneof=cash credit_card debit_card bank_transfer check insurance online"`
	PaymentDate     *time.Time      `json:"payment_date"`
	TransactionID   string          `json:"transaction_id" validate:"max=100"`
	ReferenceNumber string          `json:"reference_number" validate:"max=100"`
	ReceivedBy      string          `json:"received_by" validate:"required,max=100"`
	Status          LedgerStatus    `json:"status" validate:"omitempty,oneof=pending completed"`
	Notes           string          `json:"notes" validate:"max=1000"`
}

func (r AddPaymentRequest) toPayment() Payment {
	p := Payment{
		Amount:          r.Amount,
		PaymentMethod:   r.PaymentMethod,
		TransactionID:   r.TransactionID,
		ReferenceNumber: r.ReferenceNumber,
		ReceivedBy:      r.ReceivedBy,
		Status:          r.Status,
		Notes:           r.Notes,
	}
	if r.PaymentDate != nil {
		p.PaymentDate = *r.PaymentDate
	}
	return p
}

type MarkPaidRequest struct {
	PaymentMethod PaymentMethod `json:"payment_method" validate:"required,oneof=cash credit_card debit_card bank_transfer check insurance online"`
	ReceivedBy    string        `json:"received_by" validate:"required,max=100"`
}

type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type UpdatePaymentStatusRequest struct {
	Status LedgerStatus `json:"status" validate:"required,oneof=completed failed refunded"`
}

type BulkPaymentItem struct {
	InvoiceID uuid.UUID         `json:"invoice_id" validate:"required"`
	Payment   AddPaymentRequest `json:"payment"`
}

type BulkPaymentRequest struct {
	Payments []BulkPaymentItem `json:"payments" validate:"required,min=1,max=500"`
}

// BulkPaymentResult reports the outcome for one item of a bulk request.
type BulkPaymentResult struct {
	Index     int       `json:"index"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	OK        bool      `json:"ok"`
	Payment   *Payment  `json:"payment,omitempty"`
	Error     string    `json:"error,omitempty"`
	Code      string    `json:"code,omitempty"`
}
