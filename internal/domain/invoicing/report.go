package invoicing

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

// The folds below are pure: they take whatever invoices the caller loaded and
// recompute from scratch on each call.

type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

type Totals struct {
	InvoiceCount     int             `json:"invoice_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

func sumTotals(invs []*Invoice) Totals {
	return lo.Reduce(invs, func(t Totals, inv *Invoice, _ int) Totals {
		t.InvoiceCount++
		t.TotalAmount = t.TotalAmount.Add(inv.TotalAmount)
		t.AmountPaid = t.AmountPaid.Add(inv.AmountPaid)
		t.RemainingBalance = t.RemainingBalance.Add(inv.RemainingBalance)
		return t
	}, Totals{TotalAmount: zero, AmountPaid: zero, RemainingBalance: zero})
}

type RevenueRow struct {
	Period      string    `json:"period"`
	PeriodStart time.Time `json:"period_start"`
	Totals
	AverageAmount decimal.Decimal `json:"average_amount"`
}

// truncate returns the start of the day, ISO week (Monday) or month holding
// t, in UTC, with its label.
func truncate(t time.Time, g GroupBy) (time.Time, string) {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case GroupByWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		y, w := start.ISOWeek()
		return start, fmt.Sprintf("%d-W%02d", y, w)
	case GroupByMonth:
		start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01")
	default:
		return day, day.Format("2006-01-02")
	}
}

func inRange(t, start, end time.Time) bool {
	return !t.Before(start) && !t.After(end)
}

// RevenueByPeriod groups invoices issued within [start, end] by day, ISO
// week or month.
func RevenueByPeriod(invs []*Invoice, start, end time.Time, g GroupBy) ([]RevenueRow, error) {
	switch g {
	case GroupByDay, GroupByWeek, GroupByMonth:
	default:
		return nil, apperr.Invalid("group_by", "must be one of: day, week, month")
	}
	if end.Before(start) {
		return nil, apperr.Invalid("end", "must not be before start")
	}

	inWindow := lo.Filter(invs, func(inv *Invoice, _ int) bool { return inRange(inv.IssueDate, start, end) })
	groups := lo.GroupBy(inWindow, func(inv *Invoice) time.Time {
		s, _ := truncate(inv.IssueDate, g)
		return s
	})

	rows := lo.MapToSlice(groups, func(periodStart time.Time, members []*Invoice) RevenueRow {
		_, label := truncate(periodStart, g)
		t := sumTotals(members)
		return RevenueRow{
			Period:        label,
			PeriodStart:   periodStart,
			Totals:        t,
			AverageAmount: money(t.TotalAmount.Div(decimal.NewFromInt(int64(t.InvoiceCount)))),
		}
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].PeriodStart.Before(rows[j].PeriodStart) })
	return rows, nil
}

type OverdueInvoice struct {
	*Invoice
	OverdueDays int `json:"overdue_days"`
}

// OverdueInvoices lists invoices past due as of asOf that are neither paid
// nor cancelled, most overdue first.
func OverdueInvoices(invs []*Invoice, asOf time.Time) []OverdueInvoice {
	out := lo.FilterMap(invs, func(inv *Invoice, _ int) (OverdueInvoice, bool) {
		if !inv.Outstanding(asOf) {
			return OverdueInvoice{}, false
		}
		return OverdueInvoice{Invoice: inv, OverdueDays: inv.OverdueDays(asOf)}, true
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OverdueDays != out[j].OverdueDays {
			return out[i].OverdueDays > out[j].OverdueDays
		}
		return out[i].InvoiceNumber < out[j].InvoiceNumber
	})
	return out
}

type PatientRevenue struct {
	PatientID    uuid.UUID       `json:"patient_id"`
	PatientName  string          `json:"patient_name,omitempty"`
	InvoiceCount int             `json:"invoice_count"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
}

// TopPatientsByRevenue ranks patients by billed total. limit <= 0 keeps all.
func TopPatientsByRevenue(invs []*Invoice, limit int) []PatientRevenue {
	groups := lo.GroupBy(invs, func(inv *Invoice) uuid.UUID { return inv.PatientID })
	rows := lo.MapToSlice(groups, func(id uuid.UUID, members []*Invoice) PatientRevenue {
		t := sumTotals(members)
		return PatientRevenue{PatientID: id, InvoiceCount: t.InvoiceCount, TotalAmount: t.TotalAmount}
	})
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].TotalAmount.Cmp(rows[j].TotalAmount); c != 0 {
			return c > 0
		}
		return rows[i].PatientID.String() < rows[j].PatientID.String()
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// CollectionRate is amount paid over amount billed, 0 when nothing was
// billed.
func CollectionRate(invs []*Invoice) decimal.Decimal {
	t := sumTotals(invs)
	if t.TotalAmount.IsZero() {
		return zero
	}
	return t.AmountPaid.DivRound(t.TotalAmount, 4)
}

type DoctorRevenue struct {
	DoctorID   *uuid.UUID `json:"doctor_id"`
	DoctorName string     `json:"doctor_name,omitempty"`
	Totals
}

// RevenueByDoctor groups by attending doctor. Invoices without a doctor form
// one group with a nil DoctorID.
func RevenueByDoctor(invs []*Invoice) []DoctorRevenue {
	groups := lo.GroupBy(invs, func(inv *Invoice) uuid.UUID {
		if inv.DoctorID == nil {
			return uuid.Nil
		}
		return *inv.DoctorID
	})
	rows := lo.MapToSlice(groups, func(id uuid.UUID, members []*Invoice) DoctorRevenue {
		row := DoctorRevenue{Totals: sumTotals(members)}
		if id != uuid.Nil {
			row.DoctorID = lo.ToPtr(id)
		}
		return row
	})
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].TotalAmount.Cmp(rows[j].TotalAmount); c != 0 {
			return c > 0
		}
		return lo.FromPtr(rows[i].DoctorID).String() < lo.FromPtr(rows[j].DoctorID).String()
	})
	return rows
}

type ServiceRevenue struct {
	InvoiceType InvoiceType `json:"invoice_type"`
	Totals
}

// RevenueByService groups by invoice type.
func RevenueByService(invs []*Invoice) []ServiceRevenue {
	groups := lo.GroupBy(invs, func(inv *Invoice) InvoiceType { return inv.InvoiceType })
	rows := lo.MapToSlice(groups, func(t InvoiceType, members []*Invoice) ServiceRevenue {
		return ServiceRevenue{InvoiceType: t, Totals: sumTotals(members)}
	})
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].TotalAmount.Cmp(rows[j].TotalAmount); c != 0 {
			return c > 0
		}
		return rows[i].InvoiceType < rows[j].InvoiceType
	})
	return rows
}
