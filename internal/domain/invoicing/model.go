package invoicing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	TypeConsultation    InvoiceType = "consultation"
	TypeProcedure       InvoiceType = "procedure"
	TypeSurgery         InvoiceType = "surgery"
	TypeLaboratory      InvoiceType = "laboratory"
	TypeRadiology       InvoiceType = "radiology"
	TypePharmacy        InvoiceType = "pharmacy"
	TypeHospitalization InvoiceType = "hospitalization"
	TypeEmergency       InvoiceType = "emergency"
	TypeOutpatient      InvoiceType = "outpatient"
	TypeInpatient       InvoiceType = "inpatient"
	TypeEquipment       InvoiceType = "equipment"
	TypeSupplies        InvoiceType = "supplies"
	TypeMiscellaneous   InvoiceType = "miscellaneous"
)

var validInvoiceTypes = map[InvoiceType]bool{
	TypeConsultation: true, TypeProcedure: true, TypeSurgery: true, TypeLaboratory: true,
	TypeRadiology: true, TypePharmacy: true, TypeHospitalization: true, TypeEmergency: true,
	TypeOutpatient: true, TypeInpatient: true, TypeEquipment: true, TypeSupplies: true,
	TypeMiscellaneous: true,
}

type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountFixed      DiscountType = "fixed_amount"
	DiscountPercentage DiscountType = "percentage"
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
	PaymentOverpaid      PaymentStatus = "overpaid"
	PaymentRefunded      PaymentStatus = "refunded"
	PaymentCancelled     PaymentStatus = "cancelled"
	PaymentPending       PaymentStatus = "pending"
)

var validPaymentStatuses = map[PaymentStatus]bool{
	PaymentUnpaid: true, PaymentPartiallyPaid: true, PaymentPaid: true, PaymentOverpaid: true,
	PaymentRefunded: true, PaymentCancelled: true, PaymentPending: true,
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusViewed    Status = "viewed"
	StatusOverdue   Status = "overdue"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

var validStatuses = map[Status]bool{
	StatusDraft: true, StatusSent: true, StatusViewed: true, StatusOverdue: true,
	StatusPaid: true, StatusCancelled: true, StatusRefunded: true,
}

// ItemState replaces a soft-delete flag. Removed items stay on the invoice
// for audit and never count towards totals.
type ItemState string

const (
	ItemActive  ItemState = "active"
	ItemRemoved ItemState = "removed"
)

type ItemType string

const (
	ItemService      ItemType = "service"
	ItemConsultation ItemType = "consultation"
	ItemProcedure    ItemType = "procedure"
	ItemMedication   ItemType = "medication"
	ItemLaboratory   ItemType = "laboratory"
	ItemRadiology    ItemType = "radiology"
	ItemRoom         ItemType = "room"
	ItemEquipment    ItemType = "equipment"
	ItemSupply       ItemType = "supply"
	ItemOther        ItemType = "other"
)

var validItemTypes = map[ItemType]bool{
	ItemService: true, ItemConsultation: true, ItemProcedure: true, ItemMedication: true,
	ItemLaboratory: true, ItemRadiology: true, ItemRoom: true, ItemEquipment: true,
	ItemSupply: true, ItemOther: true,
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodDebitCard    PaymentMethod = "debit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheck        PaymentMethod = "check"
	MethodInsurance    PaymentMethod = "insurance"
	MethodOnline       PaymentMethod = "online"
)

var validPaymentMethods = map[PaymentMethod]bool{
	MethodCash: true, MethodCreditCard: true, MethodDebitCard: true, MethodBankTransfer: true,
	MethodCheck: true, MethodInsurance: true, MethodOnline: true,
}

// LedgerStatus is the state of a single payment entry.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerCompleted LedgerStatus = "completed"
	LedgerFailed    LedgerStatus = "failed"
	LedgerRefunded  LedgerStatus = "refunded"
)

type LineItem struct {
	ID             uuid.UUID       `json:"id"`
	ItemType       ItemType        `json:"item_type"`
	ItemName       string          `json:"item_name"`
	Description    string          `json:"description,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	State          ItemState       `json:"state"`
	RemovedAt      *time.Time      `json:"removed_at,omitempty"`
}

func (li LineItem) Active() bool { return li.State != ItemRemoved }

// Payment is an entry in the invoice's append-only ledger. Only Status
// changes after it is recorded.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentDate     time.Time       `json:"payment_date"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	ReceivedBy      string          `json:"received_by"`
	Status          LedgerStatus    `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

type ServicePeriod struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// Invoice is the aggregate root. The financial fields between Subtotal and
// RemainingBalance are derived by Recompute and never set directly.
type Invoice struct {
	ID            uuid.UUID      `json:"id"`
	InvoiceNumber string         `json:"invoice_number"`
	PatientID     uuid.UUID      `json:"patient_id"`
	DoctorID      *uuid.UUID     `json:"doctor_id,omitempty"`
	AppointmentID *uuid.UUID     `json:"appointment_id,omitempty"`
	InvoiceType   InvoiceType    `json:"invoice_type"`
	Category      string         `json:"category,omitempty"`
	IssueDate     time.Time      `json:"issue_date"`
	DueDate       time.Time      `json:"due_date"`
	ServicePeriod *ServicePeriod `json:"service_period,omitempty"`

	// ExchangeRate is carried for display only.
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`

	LineItems []LineItem `json:"line_items"`

	DiscountType    DiscountType    `json:"discount_type"`
	DiscountValue   decimal.Decimal `json:"discount_value"`
	DiscountReason  string          `json:"discount_reason,omitempty"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxExempt       bool            `json:"tax_exempt"`
	TaxExemptReason string          `json:"tax_exempt_reason,omitempty"`

	Subtotal         decimal.Decimal `json:"subtotal"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`

	Payments      []Payment     `json:"payments"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Status        Status        `json:"status"`

	Notes       string     `json:"notes,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ViewedAt    *time.Time `json:"viewed_at,omitempty"`
	OverdueAt   *time.Time `json:"overdue_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveItems returns the items that count towards totals.
func (inv *Invoice) ActiveItems() []LineItem {
	out := make([]LineItem, 0, len(inv.LineItems))
	for _, li := range inv.LineItems {
		if li.Active() {
			out = append(out, li)
		}
	}
	return out
}

func (inv *Invoice) findItem(id uuid.UUID) int {
	for i := range inv.LineItems {
		if inv.LineItems[i].ID == id {
			return i
		}
	}
	return -1
}

func (inv *Invoice) findPayment(id uuid.UUID) int {
	for i := range inv.Payments {
		if inv.Payments[i].ID == id {
			return i
		}
	}
	return -1
}

// HasCompletedPayment reports whether any money has actually been received.
func (inv *Invoice) HasCompletedPayment() bool {
	for _, p := range inv.Payments {
		if p.Status == LedgerCompleted {
			return true
		}
	}
	return false
}

func (inv *Invoice) Cancelled() bool {
	return inv.Status == StatusCancelled || inv.PaymentStatus == PaymentCancelled
}

// OverdueDays is the number of whole days between DueDate and asOf, or 0.
func (inv *Invoice) OverdueDays(asOf time.Time) int {
	if !inv.DueDate.Before(asOf) {
		return 0
	}
	return int(asOf.Sub(inv.DueDate) / (24 * time.Hour))
}

// Outstanding reports whether the invoice still expects money as of asOf.
func (inv *Invoice) Outstanding(asOf time.Time) bool {
	if inv.PaymentStatus == PaymentPaid || inv.PaymentStatus == PaymentCancelled {
		return false
	}
	return inv.DueDate.Before(asOf)
}
