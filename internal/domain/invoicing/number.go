package invoicing

import (
	"time"

	"github.com/hms/hms/internal/platform/sequence"
)

const (
	NumberPrefix = "INV"
	NumberWidth  = 4
)

// NextInvoiceNumber returns the number following the highest one in
// existing for the given month, e.g. INV-202603-0008. Numbers from other
// months are ignored; an empty month starts at 0001.
func NextInvoiceNumber(year int, month time.Month, existing []string) string {
	return nextNumber(NumberPrefix, NumberWidth, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), existing)
}

func nextNumber(prefix string, width int, period time.Time, existing []string) string {
	scope := sequence.Scope(prefix, period)
	return sequence.Format(prefix, period, sequence.MaxSequence(scope, existing)+1, width)
}
