package invoicing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – billing, front desk, doctors
	read := api.Group("/invoices", auth.RequireRole(auth.RoleBilling, auth.RoleReceptionist, auth.RoleDoctor))
	read.GET("", h.ListInvoices)
	read.GET("/:id", h.GetInvoice)
	read.GET("/number/:number", h.GetInvoiceByNumber)
	read.GET("/next-number", h.NextNumber)

	// Write endpoints – billing, front desk
	write := api.Group("/invoices", auth.RequireRole(auth.RoleBilling, auth.RoleReceptionist))
	write.POST("", h.CreateInvoice)
	write.POST("/from-appointment", h.CreateFromAppointment)
	write.PATCH("/:id", h.UpdateInvoice)
	write.POST("/:id/items", h.AddLineItem)
	write.PATCH("/:id/items/:itemId", h.UpdateLineItem)
	write.DELETE("/:id/items/:itemId", h.RemoveLineItem)
	write.POST("/:id/payments", h.AddPayment)
	write.PATCH("/:id/payments/:paymentId", h.UpdatePaymentStatus)
	write.POST("/:id/mark-paid", h.MarkAsPaid)
	write.POST("/:id/duplicate", h.DuplicateInvoice)
	write.POST("/:id/send", h.MarkSent)
	write.POST("/:id/view", h.MarkViewed)

	// Billing only
	billing := api.Group("/invoices", auth.RequireRole(auth.RoleBilling))
	billing.DELETE("/:id", h.DeleteInvoice)
	billing.POST("/:id/discount", h.ApplyDiscount)
	billing.POST("/:id/tax", h.SetTax)
	billing.POST("/:id/void", h.VoidInvoice)
	billing.POST("/payments/bulk", h.BulkAddPayments)
	billing.POST("/reminders", h.SendOverdueReminders)
	billing.GET("/reports/revenue", h.RevenueReport)
	billing.GET("/reports/overdue", h.OverdueReport)
	billing.GET("/reports/revenue-by-doctor", h.RevenueByDoctor)
	billing.GET("/reports/revenue-by-service", h.RevenueByService)
	billing.GET("/reports/top-patients", h.TopPatients)
	billing.GET("/reports/collection-rate", h.CollectionRate)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

// timeQuery accepts YYYY-MM-DD or RFC 3339. A bare date used as the upper
// bound of a range covers the whole day.
func timeQuery(c echo.Context, name string, endOfDay bool) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Invalid(name, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	return &t, nil
}

func uuidQuery(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apperr.Invalid(name, "must be a valid UUID")
	}
	return &id, nil
}

func rangeQuery(c echo.Context) (from, to *time.Time, err error) {
	if from, err = timeQuery(c, "start", false); err != nil {
		return nil, nil, err
	}
	if to, err = timeQuery(c, "end", true); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, apperr.Invalid("end", "must not be before start")
	}
	return from, to, nil
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req CreateInvoiceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), req, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) CreateFromAppointment(c echo.Context) error {
	var req CreateFromAppointmentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.CreateFromAppointment(c.Request().Context(), req, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) GetInvoiceByNumber(c echo.Context) error {
	inv, err := h.svc.GetInvoiceByNumber(c.Request().Context(), c.Param("number"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Status:        Status(c.QueryParam("status")),
		PaymentStatus: PaymentStatus(c.QueryParam("payment_status")),
		Limit:         pg.Limit,
		Offset:        pg.Offset,
	}
	var err error
	if f.PatientID, err = uuidQuery(c, "patient_id"); err != nil {
		return apperr.ToHTTP(err)
	}
	if f.DoctorID, err = uuidQuery(c, "doctor_id"); err != nil {
		return apperr.ToHTTP(err)
	}
	if f.IssuedFrom, err = timeQuery(c, "issued_from", false); err != nil {
		return apperr.ToHTTP(err)
	}
	if f.IssuedTo, err = timeQuery(c, "issued_to", true); err != nil {
		return apperr.ToHTTP(err)
	}

	items, total, err := h.svc.ListInvoices(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateInvoice(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req UpdateInvoiceRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.UpdateInvoice(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteInvoice(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AddLineItem(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req LineItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.AddLineItem(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) UpdateLineItem(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	itemID, err := pathID(c, "itemId")
	if err != nil {
		return err
	}
	var req UpdateLineItemRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.UpdateLineItem(c.Request().Context(), id, itemID, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RemoveLineItem(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	itemID, err := pathID(c, "itemId")
	if err != nil {
		return err
	}
	inv, err := h.svc.RemoveLineItem(c.Request().Context(), id, itemID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ApplyDiscount(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req ApplyDiscountRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.ApplyDiscount(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) SetTax(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req SetTaxRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.SetTax(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type paymentResponse struct {
	Invoice *Invoice `json:"invoice"`
	Payment *Payment `json:"payment"`
}

func (h *Handler) AddPayment(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req AddPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.ReceivedBy == "" {
		req.ReceivedBy = auth.UserIDFromContext(c.Request().Context())
	}
	inv, p, err := h.svc.AddPayment(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, paymentResponse{Invoice: inv, Payment: p})
}

func (h *Handler) UpdatePaymentStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	paymentID, err := pathID(c, "paymentId")
	if err != nil {
		return err
	}
	var req UpdatePaymentStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.UpdatePaymentStatus(c.Request().Context(), id, paymentID, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) MarkAsPaid(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req MarkPaidRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.ReceivedBy == "" {
		req.ReceivedBy = auth.UserIDFromContext(c.Request().Context())
	}
	inv, err := h.svc.MarkAsPaid(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) VoidInvoice(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req VoidRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	inv, err := h.svc.VoidInvoice(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) DuplicateInvoice(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.DuplicateInvoice(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) MarkSent(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.MarkSent(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) MarkViewed(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.MarkViewed(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

type bulkResponse struct {
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Results   []BulkPaymentResult `json:"results"`
}

// BulkAddPayments answers 207 when only some payments were recorded.
func (h *Handler) BulkAddPayments(c echo.Context) error {
	var req BulkPaymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	user := auth.UserIDFromContext(c.Request().Context())
	for i := range req.Payments {
		if req.Payments[i].Payment.ReceivedBy == "" {
			req.Payments[i].Payment.ReceivedBy = user
		}
	}
	results, err := h.svc.BulkAddPayments(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	resp := bulkResponse{Results: results}
	for _, r := range results {
		if r.OK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	status := http.StatusOK
	if resp.Failed > 0 && resp.Succeeded > 0 {
		status = http.StatusMultiStatus
	} else if resp.Failed > 0 {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, resp)
}

func (h *Handler) SendOverdueReminders(c echo.Context) error {
	asOf := time.Now()
	t, err := timeQuery(c, "as_of", false)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if t != nil {
		asOf = *t
	}
	summary, err := h.svc.SendOverdueReminders(c.Request().Context(), asOf)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, summary)
}

func (h *Handler) NextNumber(c echo.Context) error {
	at := time.Now()
	t, err := timeQuery(c, "at", false)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if t != nil {
		at = *t
	}
	number, err := h.svc.PreviewNextNumber(c.Request().Context(), at)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"invoice_number": number})
}

func (h *Handler) RevenueReport(c echo.Context) error {
	from, to, err := rangeQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if from == nil || to == nil {
		return apperr.ToHTTP(apperr.Validation(map[string]string{"start": "is required", "end": "is required"}))
	}
	g := GroupBy(c.QueryParam("group_by"))
	if g == "" {
		g = GroupByDay
	}
	rows, err := h.svc.RevenueReport(c.Request().Context(), *from, *to, g)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) OverdueReport(c echo.Context) error {
	asOf := time.Now()
	t, err := timeQuery(c, "as_of", false)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if t != nil {
		asOf = *t
	}
	rows, err := h.svc.OverdueReport(c.Request().Context(), asOf)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) RevenueByDoctor(c echo.Context) error {
	from, to, err := rangeQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	rows, err := h.svc.RevenueByDoctor(c.Request().Context(), from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) RevenueByService(c echo.Context) error {
	from, to, err := rangeQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	rows, err := h.svc.RevenueByService(c.Request().Context(), from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) TopPatients(c echo.Context) error {
	from, to, err := rangeQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return apperr.ToHTTP(apperr.Invalid("limit", "must be a positive integer"))
		}
		limit = n
	}
	rows, err := h.svc.TopPatients(c.Request().Context(), from, to, limit)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *Handler) CollectionRate(c echo.Context) error {
	from, to, err := rangeQuery(c)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	summary, err := h.svc.CollectionRate(c.Request().Context(), from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, summary)
}
