package invoicing

import "github.com/shopspring/decimal"

// Recompute returns a copy of inv with every derived financial field
// recalculated from line items, discount and tax policy, and the payment
// ledger. It is pure and idempotent; every mutation calls it exactly once
// before the invoice is persisted.
func Recompute(inv Invoice) Invoice {
	out := inv

	out.LineItems = make([]LineItem, len(inv.LineItems))
	subtotal := zero
	for i, li := range inv.LineItems {
		li.Quantity = li.Quantity.Round(4)
		li.UnitPrice = money(li.UnitPrice)
		li.DiscountAmount = money(li.DiscountAmount)
		li.TotalPrice = lineTotal(li)
		if li.State == "" {
			li.State = ItemActive
		}
		out.LineItems[i] = li
		if li.Active() {
			subtotal = subtotal.Add(li.TotalPrice)
		}
	}
	out.Subtotal = money(subtotal)

	switch out.DiscountType {
	case DiscountFixed:
		out.DiscountAmount = money(out.DiscountValue)
	case DiscountPercentage:
		out.DiscountAmount = percentOf(out.Subtotal, out.DiscountValue)
	default:
		out.DiscountType = DiscountNone
		out.DiscountAmount = zero
	}

	if out.TaxExempt {
		out.TaxAmount = zero
	} else {
		// A discount larger than the subtotal leaves nothing to tax.
		out.TaxAmount = percentOf(nonNegative(out.Subtotal.Sub(out.DiscountAmount)), out.TaxRate)
	}

	out.TotalAmount = nonNegative(out.Subtotal.Sub(out.DiscountAmount).Add(out.TaxAmount))

	out.Payments = make([]Payment, len(inv.Payments))
	paid := zero
	for i, p := range inv.Payments {
		p.Amount = money(p.Amount)
		out.Payments[i] = p
		if p.Status == LedgerCompleted {
			paid = paid.Add(p.Amount)
		}
	}
	out.AmountPaid = money(paid)
	out.RemainingBalance = nonNegative(out.TotalAmount.Sub(out.AmountPaid))

	out.PaymentStatus = derivePaymentStatus(out.PaymentStatus, out.AmountPaid, out.TotalAmount)
	out.Status = deriveStatus(out, out.PaymentStatus)
	if out.PaymentStatus == PaymentUnpaid || out.PaymentStatus == PaymentPartiallyPaid {
		out.PaidAt = nil
	}
	return out
}

func lineTotal(li LineItem) decimal.Decimal {
	return nonNegative(money(li.Quantity.Mul(li.UnitPrice).Sub(li.DiscountAmount)))
}

// derivePaymentStatus keeps cancelled and refunded as set by their
// operations; everything else follows amountPaid against totalAmount.
func derivePaymentStatus(current PaymentStatus, paid, total decimal.Decimal) PaymentStatus {
	switch current {
	case PaymentCancelled, PaymentRefunded:
		return current
	}
	switch {
	case paid.IsZero():
		return PaymentUnpaid
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	default:
		return PaymentPartiallyPaid
	}
}

// deriveStatus follows the payment status. An invoice that stops being
// fully paid returns to the furthest workflow step it had reached.
func deriveStatus(inv Invoice, ps PaymentStatus) Status {
	current := inv.Status
	switch current {
	case StatusCancelled, StatusRefunded:
		return current
	case "":
		current = StatusDraft
	}
	if ps == PaymentPaid {
		return StatusPaid
	}
	if current != StatusPaid {
		return current
	}
	switch {
	case inv.OverdueAt != nil:
		return StatusOverdue
	case inv.ViewedAt != nil:
		return StatusViewed
	case inv.SentAt != nil:
		return StatusSent
	default:
		return StatusDraft
	}
}
