package directory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// Store looks records up by id. Missing records yield an apperr not-found
// error.
type Store interface {
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
	Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func notFound(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s %s not found", kind, id)
	}
	return errors.Wrapf(err, "get %s %s", kind, id)
}

func (s *PGStore) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, patient_code, first_name, last_name, COALESCE(email, ''), COALESCE(phone, ''), active
		FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.PatientCode, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.Active)
	if err != nil {
		return nil, notFound(err, "patient", id)
	}
	return &p, nil
}

func (s *PGStore) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, doctor_code, first_name, last_name, COALESCE(specialization, ''),
		       COALESCE(department, ''), consultation_fee, COALESCE(email, ''), active
		FROM doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.DoctorCode, &d.FirstName, &d.LastName, &d.Specialization,
			&d.Department, &d.ConsultationFee, &d.Email, &d.Active)
	if err != nil {
		return nil, notFound(err, "doctor", id)
	}
	return &d, nil
}

func (s *PGStore) Appointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT id, patient_id, doctor_id, scheduled_at, duration_minutes, appointment_type,
		       status, fee, COALESCE(reason, '')
		FROM appointments WHERE id = $1`, id).
		Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduledAt, &a.DurationMinutes,
			&a.AppointmentType, &a.Status, &a.Fee, &a.Reason)
	if err != nil {
		return nil, notFound(err, "appointment", id)
	}
	return &a, nil
}
