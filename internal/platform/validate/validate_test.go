package validate

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

type itemReq struct {
	Name      string          `json:"item_name" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type sampleReq struct {
	Kind  string          `json:"kind" validate:"required,oneof=percentage fixed_amount"`
	Value decimal.Decimal `json:"value" validate:"gte=0,lte=100"`
	Items []itemReq       `json:"items" validate:"min=1,dive"`
}

func TestStruct_Valid(t *testing.T) {
	req := sampleReq{
		Kind:  "percentage",
		Value: decimal.NewFromInt(10),
		Items: []itemReq{{Name: "Consultation", UnitPrice: decimal.NewFromInt(100)}},
	}
	if err := Struct(req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStruct_ReportsJSONFieldPaths(t *testing.T) {
	req := sampleReq{
		Kind:  "bogus",
		Value: decimal.NewFromInt(150),
		Items: []itemReq{{Name: "", UnitPrice: decimal.NewFromInt(-1)}},
	}
	err := Struct(req)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := apperr.Fields(err)
	for _, f := range []string{"kind", "value", "items[0].item_name", "items[0].unit_price"} {
		if _, ok := fields[f]; !ok {
			t.Errorf("expected field %q in %v", f, fields)
		}
	}
	if fields["kind"] != "must be one of: percentage, fixed_amount" {
		t.Errorf("unexpected kind message: %q", fields["kind"])
	}
}

func TestStruct_EmptySlice(t *testing.T) {
	err := Struct(sampleReq{Kind: "percentage"})
	if _, ok := apperr.Fields(err)["items"]; !ok {
		t.Errorf("expected items error, got %v", err)
	}
}
