package invoicing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// The whole aggregate is stored as a JSONB document. The scalar columns
// mirror the fields used for filtering and SQL reporting.
const numberConstraint = "invoices_invoice_number_key"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		doc     []byte
		version int
	)
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}
	var inv Invoice
	if err := json.Unmarshal(doc, &inv); err != nil {
		return nil, errors.Wrap(err, "decode invoice document")
	}
	inv.Version = version
	return &inv, nil
}

func (r *repoPG) Create(ctx context.Context, inv *Invoice) error {
	inv.Version = 1
	doc, err := json.Marshal(inv)
	if err != nil {
		return errors.Wrap(err, "encode invoice")
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO invoices (id, invoice_number, patient_id, doctor_id, appointment_id,
			invoice_type, status, payment_status, issue_date, due_date,
			total_amount, amount_paid, remaining_balance, currency, document, version,
			created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		inv.ID, inv.InvoiceNumber, inv.PatientID, inv.DoctorID, inv.AppointmentID,
		inv.InvoiceType, inv.Status, inv.PaymentStatus, inv.IssueDate, inv.DueDate,
		inv.TotalAmount, inv.AmountPaid, inv.RemainingBalance, inv.Currency, doc, inv.Version,
		inv.CreatedAt, inv.UpdatedAt)
	if db.IsUniqueViolation(err, numberConstraint) {
		return errors.Wrapf(ErrNumberTaken, "%s", inv.InvoiceNumber)
	}
	return errors.Wrap(err, "insert invoice")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT document, version FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return inv, errors.Wrap(err, "get invoice")
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx,
		`SELECT document, version FROM invoices WHERE invoice_number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "number %s", number)
	}
	return inv, errors.Wrap(err, "get invoice by number")
}

func (r *repoPG) Update(ctx context.Context, inv *Invoice) error {
	expected := inv.Version
	inv.Version = expected + 1
	doc, err := json.Marshal(inv)
	if err != nil {
		inv.Version = expected
		return errors.Wrap(err, "encode invoice")
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET doctor_id = $3, appointment_id = $4, invoice_type = $5,
			status = $6, payment_status = $7, issue_date = $8, due_date = $9,
			total_amount = $10, amount_paid = $11, remaining_balance = $12, currency = $13,
			document = $14, version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2`,
		inv.ID, expected, inv.DoctorID, inv.AppointmentID, inv.InvoiceType,
		inv.Status, inv.PaymentStatus, inv.IssueDate, inv.DueDate,
		inv.TotalAmount, inv.AmountPaid, inv.RemainingBalance, inv.Currency,
		doc, inv.UpdatedAt)
	if err != nil {
		inv.Version = expected
		return errors.Wrap(err, "update invoice")
	}
	if tag.RowsAffected() == 0 {
		inv.Version = expected
		var exists bool
		if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM invoices WHERE id = $1)`, inv.ID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check invoice")
		}
		if !exists {
			return errors.Wrapf(ErrNotFound, "id %s", inv.ID)
		}
		return errors.Wrapf(ErrVersionConflict, "invoice %s at version %d", inv.InvoiceNumber, expected)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete invoice")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func (f Filter) where() (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(expr string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.IssuedFrom != nil {
		add("issue_date >= $%d", *f.IssuedFrom)
	}
	if f.IssuedTo != nil {
		add("issue_date <= $%d", *f.IssuedTo)
	}
	if f.DueBefore != nil {
		add("due_date < $%d", *f.DueBefore)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Invoice, int, error) {
	where, args := f.where()

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM invoices"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count invoices")
	}

	query := "SELECT document, version FROM invoices" + where + " ORDER BY issue_date DESC, invoice_number DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list invoices")
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, errors.Wrap(rows.Err(), "iterate invoices")
}

func (r *repoPG) NumbersInScope(ctx context.Context, scope string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT invoice_number FROM invoices WHERE invoice_number LIKE $1`, scope+"-%")
	if err != nil {
		return nil, errors.Wrap(err, "list invoice numbers")
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
