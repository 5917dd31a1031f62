// Package directory resolves the patients, doctors and appointments that
// invoices refer to. It is read-only; those records are managed elsewhere.
package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Patient struct {
	ID          uuid.UUID `json:"id"`
	PatientCode string    `json:"patient_code"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Active      bool      `json:"active"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

type Doctor struct {
	ID              uuid.UUID       `json:"id"`
	DoctorCode      string          `json:"doctor_code"`
	FirstName       string          `json:"first_name"`
	LastName        string          `json:"last_name"`
	Specialization  string          `json:"specialization,omitempty"`
	Department      string          `json:"department,omitempty"`
	ConsultationFee decimal.Decimal `json:"consultation_fee"`
	Email           string          `json:"email,omitempty"`
	Active          bool            `json:"active"`
}

func (d *Doctor) FullName() string {
	return strings.TrimSpace("Dr. " + d.FirstName + " " + d.LastName)
}

type Appointment struct {
	ID              uuid.UUID           `json:"id"`
	PatientID       uuid.UUID           `json:"patient_id"`
	DoctorID        uuid.UUID           `json:"doctor_id"`
	ScheduledAt     time.Time           `json:"scheduled_at"`
	DurationMinutes int                 `json:"duration_minutes"`
	AppointmentType string              `json:"appointment_type"`
	Status          string              `json:"status"`
	Fee             decimal.NullDecimal `json:"fee"`
	Reason          string              `json:"reason,omitempty"`
}
