package invoicing

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func item(name string, qty, price string) LineItem {
	return LineItem{ItemType: ItemService, ItemName: name, Quantity: d(qty), UnitPrice: d(price)}
}

// newInvoice builds a draft through the aggregate operations.
func newInvoice(t *testing.T, taxRate string, items ...LineItem) *Invoice {
	t.Helper()
	inv := &Invoice{
		ID:            uuid.New(),
		InvoiceNumber: "INV-202603-0001",
		PatientID:     uuid.New(),
		InvoiceType:   TypeConsultation,
		IssueDate:     testNow,
		DueDate:       testNow.AddDate(0, 0, 30),
		Currency:      "USD",
		TaxRate:       d(taxRate),
	}
	*inv = Recompute(*inv)
	for _, li := range items {
		if _, err := inv.AddLineItem(li); err != nil {
			t.Fatalf("add line item: %v", err)
		}
	}
	return inv
}

func assertMoney(t *testing.T, field string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Errorf("%s: expected %s, got %s", field, want, got)
	}
}

func cashPayment(amount string) Payment {
	return Payment{Amount: d(amount), PaymentMethod: MethodCash, ReceivedBy: "front-desk"}
}

func TestRecompute_ScenarioA_TaxOnSubtotal(t *testing.T) {
	inv := newInvoice(t, "15", item("Consultation", "2", "100"))

	assertMoney(t, "subtotal", inv.Subtotal, "200")
	assertMoney(t, "discount_amount", inv.DiscountAmount, "0")
	assertMoney(t, "tax_amount", inv.TaxAmount, "30")
	assertMoney(t, "total_amount", inv.TotalAmount, "230")
	assertMoney(t, "remaining_balance", inv.RemainingBalance, "230")
	if inv.PaymentStatus != PaymentUnpaid {
		t.Errorf("expected unpaid, got %s", inv.PaymentStatus)
	}
	if inv.Status != StatusDraft {
		t.Errorf("expected draft, got %s", inv.Status)
	}
}

func TestRecompute_ScenarioB_PercentageDiscountBeforeTax(t *testing.T) {
	inv := newInvoice(t, "15", item("Consultation", "2", "100"))
	if err := inv.ApplyDiscount(DiscountPercentage, d("10"), "loyalty"); err != nil {
		t.Fatalf("apply discount: %v", err)
	}

	assertMoney(t, "discount_amount", inv.DiscountAmount, "20")
	assertMoney(t, "tax_amount", inv.TaxAmount, "27")
	assertMoney(t, "total_amount", inv.TotalAmount, "207")
}

func TestRecompute_ScenarioC_FullPayment(t *testing.T) {
	inv := newInvoice(t, "15", item("Consultation", "2", "100"))
	if _, err := inv.AddPayment(cashPayment("230"), testNow); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	assertMoney(t, "amount_paid", inv.AmountPaid, "230")
	assertMoney(t, "remaining_balance", inv.RemainingBalance, "0")
	if inv.PaymentStatus != PaymentPaid {
		t.Errorf("expected paid, got %s", inv.PaymentStatus)
	}
	if inv.Status != StatusPaid {
		t.Errorf("expected status paid, got %s", inv.Status)
	}
	if inv.PaidAt == nil || !inv.PaidAt.Equal(testNow) {
		t.Errorf("expected paid_at %v, got %v", testNow, inv.PaidAt)
	}
}

func TestRecompute_ScenarioD_OverpaymentLeavesInvoiceUnchanged(t *testing.T) {
	inv := newInvoice(t, "15", item("Consultation", "2", "100"))
	before, _ := json.Marshal(inv)

	_, err := inv.AddPayment(cashPayment("250"), testNow)
	if !errors.Is(err, ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}
	after, _ := json.Marshal(inv)
	if string(before) != string(after) {
		t.Error("invoice changed after rejected payment")
	}
	assertMoney(t, "amount_paid", inv.AmountPaid, "0")
}

func TestRecompute_ScenarioE_VoidPaidInvoice(t *testing.T) {
	inv := newInvoice(t, "15", item("Consultation", "2", "100"))
	if _, err := inv.AddPayment(cashPayment("230"), testNow); err != nil {
		t.Fatalf("add payment: %v", err)
	}
	if err := inv.Void("entered twice", testNow); !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if inv.Status != StatusPaid {
		t.Errorf("expected status to stay paid, got %s", inv.Status)
	}
}

func TestRecompute_FixedDiscountLargerThanSubtotal(t *testing.T) {
	inv := newInvoice(t, "15", item("Dressing", "1", "50"))
	if err := inv.ApplyDiscount(DiscountFixed, d("80"), "charity"); err != nil {
		t.Fatalf("apply discount: %v", err)
	}
	assertMoney(t, "tax_amount", inv.TaxAmount, "0")
	assertMoney(t, "total_amount", inv.TotalAmount, "0")
	assertMoney(t, "remaining_balance", inv.RemainingBalance, "0")
}

func TestRecompute_TaxExemptIgnoresRate(t *testing.T) {
	inv := newInvoice(t, "18", item("Surgery", "1", "1000"))
	if err := inv.SetTax(d("18"), true, "charity case"); err != nil {
		t.Fatalf("set tax: %v", err)
	}
	assertMoney(t, "tax_amount", inv.TaxAmount, "0")
	assertMoney(t, "total_amount", inv.TotalAmount, "1000")
	if inv.TaxExemptReason != "charity case" {
		t.Errorf("expected exempt reason kept, got %q", inv.TaxExemptReason)
	}
}

func TestRecompute_RoundsHalfUpToCents(t *testing.T) {
	tests := []struct {
		name  string
		qty   string
		price string
		rate  string
		sub   string
		tax   string
	}{
		{"price rounded", "3", "33.335", "0", "100.02", "0"},
		{"tax half cent rounds up", "1", "0.10", "5", "0.10", "0.01"},
		{"tax below half cent rounds down", "1", "10.05", "5", "10.05", "0.50"},
		{"fractional quantity", "1.5", "19.99", "10", "29.99", "3.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newInvoice(t, tt.rate, item("x", tt.qty, tt.price))
			assertMoney(t, "subtotal", inv.Subtotal, tt.sub)
			assertMoney(t, "tax_amount", inv.TaxAmount, tt.tax)
		})
	}
}

func TestRecompute_RemovedItemsExcluded(t *testing.T) {
	inv := newInvoice(t, "0", item("a", "1", "100"), item("b", "1", "40"))
	if err := inv.RemoveLineItem(inv.LineItems[1].ID, testNow); err != nil {
		t.Fatalf("remove: %v", err)
	}
	assertMoney(t, "subtotal", inv.Subtotal, "100")
	if len(inv.LineItems) != 2 {
		t.Fatalf("expected removed item kept for audit, got %d items", len(inv.LineItems))
	}
	if inv.LineItems[1].State != ItemRemoved || inv.LineItems[1].RemovedAt == nil {
		t.Errorf("expected item marked removed, got %+v", inv.LineItems[1])
	}
}

func TestRecompute_LineTotalClampedAtZero(t *testing.T) {
	inv := newInvoice(t, "0", LineItem{
		ItemType: ItemSupply, ItemName: "Gauze", Quantity: d("1"), UnitPrice: d("5"), DiscountAmount: d("8"),
	}, item("Bandage", "1", "10"))
	assertMoney(t, "line total", inv.LineItems[0].TotalPrice, "0")
	assertMoney(t, "subtotal", inv.Subtotal, "10")
}

func TestRecompute_Idempotent(t *testing.T) {
	inv := newInvoice(t, "7.5", item("a", "3", "12.345"), item("b", "0.5", "99.99"))
	if err := inv.ApplyDiscount(DiscountPercentage, d("12.5"), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.AddPayment(cashPayment("20"), testNow); err != nil {
		t.Fatal(err)
	}

	once := Recompute(*inv)
	twice := Recompute(once)
	a, _ := json.Marshal(once)
	b, _ := json.Marshal(twice)
	if string(a) != string(b) {
		t.Errorf("recompute not idempotent:\n%s\n%s", a, b)
	}
}

func TestRecompute_DoesNotAliasInput(t *testing.T) {
	inv := newInvoice(t, "0", item("a", "1", "10"))
	out := Recompute(*inv)
	out.LineItems[0].ItemName = "changed"
	if inv.LineItems[0].ItemName != "a" {
		t.Error("recompute shares line item storage with its input")
	}
}

func TestDerivePaymentStatus(t *testing.T) {
	tests := []struct {
		current PaymentStatus
		paid    string
		total   string
		want    PaymentStatus
	}{
		{PaymentUnpaid, "0", "100", PaymentUnpaid},
		{PaymentUnpaid, "40", "100", PaymentPartiallyPaid},
		{PaymentPartiallyPaid, "100", "100", PaymentPaid},
		{PaymentPaid, "100", "150", PaymentPartiallyPaid},
		{PaymentUnpaid, "0", "0", PaymentUnpaid},
		{PaymentCancelled, "40", "100", PaymentCancelled},
		{PaymentRefunded, "0", "100", PaymentRefunded},
	}
	for _, tt := range tests {
		got := derivePaymentStatus(tt.current, d(tt.paid), d(tt.total))
		if got != tt.want {
			t.Errorf("derivePaymentStatus(%s, %s, %s) = %s, want %s", tt.current, tt.paid, tt.total, got, tt.want)
		}
	}
}

func TestRecompute_PaidInvoiceReopensWhenTotalGrows(t *testing.T) {
	inv := newInvoice(t, "0", item("a", "1", "100"))
	if err := inv.MarkSent(testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.AddPayment(cashPayment("100"), testNow); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.AddLineItem(item("b", "1", "25")); err != nil {
		t.Fatal(err)
	}
	if inv.PaymentStatus != PaymentPartiallyPaid {
		t.Errorf("expected partially_paid, got %s", inv.PaymentStatus)
	}
	if inv.Status != StatusSent {
		t.Errorf("expected sent, got %s", inv.Status)
	}
	if inv.PaidAt != nil {
		t.Error("expected paid_at cleared")
	}
	assertMoney(t, "remaining_balance", inv.RemainingBalance, "25")
}

func TestRecompute_PaidInvoiceReturnsToReachedStep(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(inv *Invoice)
		want    Status
	}{
		{"never sent", func(inv *Invoice) {}, StatusDraft},
		{"sent", func(inv *Invoice) { _ = inv.MarkSent(testNow) }, StatusSent},
		{"viewed", func(inv *Invoice) { _ = inv.MarkViewed(testNow) }, StatusViewed},
		{"overdue", func(inv *Invoice) {
			_ = inv.MarkSent(testNow)
			inv.MarkOverdue(inv.DueDate.AddDate(0, 0, 1))
		}, StatusOverdue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newInvoice(t, "0", item("a", "1", "100"))
			tt.prepare(inv)
			if _, err := inv.AddPayment(cashPayment("100"), testNow); err != nil {
				t.Fatal(err)
			}
			if inv.Status != StatusPaid {
				t.Fatalf("expected paid, got %s", inv.Status)
			}
			if _, err := inv.AddLineItem(item("b", "1", "25")); err != nil {
				t.Fatal(err)
			}
			if inv.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, inv.Status)
			}
		})
	}
}

func TestRecompute_KeepsFractionalRates(t *testing.T) {
	inv := newInvoice(t, "0", item("a", "1", "1000"))
	if err := inv.SetTax(d("7.125"), false, ""); err != nil {
		t.Fatal(err)
	}
	if !inv.TaxRate.Equal(d("7.125")) {
		t.Errorf("tax rate changed to %s", inv.TaxRate)
	}
	assertMoney(t, "tax_amount", inv.TaxAmount, "71.25")
	assertMoney(t, "total_amount", inv.TotalAmount, "1071.25")

	if err := inv.SetTax(d("0"), false, ""); err != nil {
		t.Fatal(err)
	}
	if err := inv.ApplyDiscount(DiscountPercentage, d("12.345"), "staff"); err != nil {
		t.Fatal(err)
	}
	if !inv.DiscountValue.Equal(d("12.345")) {
		t.Errorf("discount value changed to %s", inv.DiscountValue)
	}
	assertMoney(t, "discount_amount", inv.DiscountAmount, "123.45")
	assertMoney(t, "total_amount", inv.TotalAmount, "876.55")

	again := Recompute(*inv)
	if !again.TaxRate.Equal(inv.TaxRate) || !again.DiscountValue.Equal(inv.DiscountValue) {
		t.Error("recompute changed policy rates")
	}
}

// Random operation sequences must keep the totals reconciled.
func TestRecompute_InvariantsHoldUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	price := func() decimal.Decimal { return decimal.New(rng.Int63n(100000), -2) }

	for run := 0; run < 200; run++ {
		inv := newInvoice(t, "0", item("seed", "1", "10"))
		var lastPaid decimal.Decimal

		for step := 0; step < 25; step++ {
			switch rng.Intn(6) {
			case 0:
				_, _ = inv.AddLineItem(LineItem{
					ItemType: ItemService, ItemName: "x",
					Quantity: decimal.NewFromInt(rng.Int63n(5) + 1), UnitPrice: price(),
					DiscountAmount: decimal.New(rng.Int63n(2000), -2),
				})
			case 1:
				active := inv.ActiveItems()
				_ = inv.RemoveLineItem(active[rng.Intn(len(active))].ID, testNow)
			case 2:
				_ = inv.ApplyDiscount(DiscountPercentage, decimal.New(rng.Int63n(10001), -2), "")
			case 3:
				_ = inv.ApplyDiscount(DiscountFixed, price(), "")
			case 4:
				_ = inv.SetTax(decimal.New(rng.Int63n(3001), -2), rng.Intn(4) == 0, "")
			case 5:
				if inv.RemainingBalance.IsPositive() {
					amt := inv.RemainingBalance.Mul(decimal.NewFromFloat(rng.Float64())).Round(2)
					if amt.IsPositive() {
						_, _ = inv.AddPayment(cashPayment(amt.String()), testNow)
					}
				}
			}
			checkInvariants(t, inv)
			if inv.AmountPaid.LessThan(lastPaid) {
				t.Fatalf("amount paid decreased from %s to %s", lastPaid, inv.AmountPaid)
			}
			lastPaid = inv.AmountPaid
		}
	}
}

func checkInvariants(t *testing.T, inv *Invoice) {
	t.Helper()
	sum := decimal.Zero
	for _, li := range inv.ActiveItems() {
		sum = sum.Add(li.TotalPrice)
	}
	if !inv.Subtotal.Equal(sum) {
		t.Fatalf("subtotal %s != sum of active items %s", inv.Subtotal, sum)
	}
	want := inv.Subtotal.Sub(inv.DiscountAmount).Add(inv.TaxAmount)
	if want.IsNegative() {
		want = decimal.Zero
	}
	if !inv.TotalAmount.Equal(want) {
		t.Fatalf("total %s != max(0, %s - %s + %s)", inv.TotalAmount, inv.Subtotal, inv.DiscountAmount, inv.TaxAmount)
	}
	if inv.RemainingBalance.IsNegative() {
		t.Fatalf("negative remaining balance %s", inv.RemainingBalance)
	}
	switch {
	case inv.AmountPaid.IsZero():
		if inv.PaymentStatus != PaymentUnpaid {
			t.Fatalf("amount paid 0 but status %s", inv.PaymentStatus)
		}
	case inv.AmountPaid.GreaterThanOrEqual(inv.TotalAmount):
		if inv.PaymentStatus != PaymentPaid {
			t.Fatalf("amount paid %s >= total %s but status %s", inv.AmountPaid, inv.TotalAmount, inv.PaymentStatus)
		}
	default:
		if inv.PaymentStatus != PaymentPartiallyPaid {
			t.Fatalf("partial payment but status %s", inv.PaymentStatus)
		}
	}
}
