package reporting

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

// MeasureDefinition is a named SQL aggregate over the tenant's invoices.
// Every measure takes an optional issue-date window as $1 (from) and $2 (to).
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	From        *time.Time               `json:"from,omitempty"`
	To          *time.Time               `json:"to,omitempty"`
	Results     []map[string]interface{} `json:"results"`
}

const window = `issue_date >= COALESCE($1::timestamptz, '-infinity') AND issue_date < COALESCE($2::timestamptz, 'infinity')`

var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "invoice-status-breakdown",
		Name:        "Invoice Status Breakdown",
		Description: "Invoice count and billed total per workflow status",
		SQL: `SELECT status, COUNT(*) AS invoices, COALESCE(SUM(total_amount), 0) AS total_amount
FROM invoices WHERE ` + window + ` GROUP BY status ORDER BY invoices DESC`,
	},
	{
		ID:          "payment-status-breakdown",
		Name:        "Payment Status Breakdown",
		Description: "Invoice count, billed total and outstanding balance per payment status",
		SQL: `SELECT payment_status, COUNT(*) AS invoices,
       COALESCE(SUM(total_amount), 0) AS total_amount,
       COALESCE(SUM(remaining_balance), 0) AS outstanding
FROM invoices WHERE ` + window + ` GROUP BY payment_status ORDER BY invoices DESC`,
	},
	{
		ID:          "payment-method-totals",
		Name:        "Payment Method Totals",
		Description: "Completed payment count and amount per payment method",
		SQL: `SELECT p->>'payment_method' AS payment_method, COUNT(*) AS payments,
       COALESCE(SUM((p->>'amount')::numeric), 0) AS amount
FROM invoices, jsonb_array_elements(document->'payments') AS p
WHERE p->>'status' = 'completed' AND ` + window + `
GROUP BY 1 ORDER BY amount DESC`,
	},
	{
		ID:          "monthly-billed",
		Name:        "Monthly Billed",
		Description: "Billed, collected and outstanding amounts per issue month, excluding cancelled invoices",
		SQL: `SELECT to_char(date_trunc('month', issue_date), 'YYYY-MM') AS month, COUNT(*) AS invoices,
       COALESCE(SUM(total_amount), 0) AS billed,
       COALESCE(SUM(amount_paid), 0) AS collected,
       COALESCE(SUM(remaining_balance), 0) AS outstanding
FROM invoices WHERE status <> 'cancelled' AND ` + window + `
GROUP BY 1 ORDER BY 1`,
	},
}

func FindMeasure(id string) *MeasureDefinition {
	m, ok := lo.Find(PredefinedMeasures, func(m MeasureDefinition) bool { return m.ID == id })
	if !ok {
		return nil
	}
	return &m
}

// Evaluator runs measures on the tenant connection carried by ctx.
type Evaluator struct {
	pool *pgxpool.Pool
}

func NewEvaluator(pool *pgxpool.Pool) *Evaluator {
	return &Evaluator{pool: pool}
}

func (e *Evaluator) Evaluate(ctx context.Context, m *MeasureDefinition, from, to *time.Time) (*MeasureReport, error) {
	rows, err := db.Conn(ctx, e.pool).Query(ctx, m.SQL, from, to)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate %s", m.ID)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := []map[string]interface{}{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", m.ID)
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "iterate %s", m.ID)
	}

	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: time.Now().UTC(),
		From:        from,
		To:          to,
		Results:     results,
	}, nil
}

type evaluator interface {
	Evaluate(ctx context.Context, m *MeasureDefinition, from, to *time.Time) (*MeasureReport, error)
}

type Handler struct {
	eval evaluator
}

func NewHandler(eval evaluator) *Handler {
	return &Handler{eval: eval}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports/measures", auth.RequireRole(auth.RoleBilling))
	g.GET("", h.ListMeasures)
	g.GET("/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	from, err := dateParam(c, "from")
	if err != nil {
		return err
	}
	to, err := dateParam(c, "to")
	if err != nil {
		return err
	}
	if from != nil && to != nil && !to.After(*from) {
		return echo.NewHTTPError(http.StatusBadRequest, "to must be after from")
	}

	report, err := h.eval.Evaluate(c.Request().Context(), m, from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "measure evaluation failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, report)
}

// dateParam accepts YYYY-MM-DD or RFC 3339.
func dateParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+" date")
}
