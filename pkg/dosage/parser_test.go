package dosage

import (
	"errors"
	"testing"

	"github.com/meditrek-engine/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name           string
		input          string
		expectedAmount float64
		expectedUnit   string
		wantErr        bool
	}{
		{name: "Milligrams with space", input: "500 mg", expectedAmount: 500, expectedUnit: "mg"},
		{name: "Millilitres no space", input: "5ml", expectedAmount: 5, expectedUnit: "ml"},
		{name: "Decimal", input: "0.5 mg", expectedAmount: 0.5, expectedUnit: "mg"},
		{name: "Leading dot", input: ".25 mg", expectedAmount: 0.25, expectedUnit: "mg"},
		{name: "Plural tablets", input: "2 Tablets", expectedAmount: 2, expectedUnit: "tablet"},
		{name: "Micrograms symbol", input: "100 µg", expectedAmount: 100, expectedUnit: "mcg"},
		{name: "Bare number", input: "1", expectedAmount: 1, expectedUnit: "tablet"},
		{name: "Empty", input: "  ", wantErr: true},
		{name: "Zero amount", input: "0 mg", wantErr: true},
		{name: "Unknown unit", input: "3 buckets", wantErr: true},
		{name: "Garbage", input: "take some", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %q, got %v", tt.input, got)
				}
				if !errors.Is(err, domain.ErrValidation) {
					t.Errorf("Expected validation error, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.Amount != tt.expectedAmount {
				t.Errorf("Expected amount %v, got %v", tt.expectedAmount, got.Amount)
			}
			if got.Unit != tt.expectedUnit {
				t.Errorf("Expected unit %s, got %s", tt.expectedUnit, got.Unit)
			}
		})
	}
}

func TestDoseString(t *testing.T) {
	d, err := Parse("2.5 milligrams")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.String() != "2.5 mg" {
		t.Errorf("Expected 2.5 mg, got %s", d.String())
	}
}

func TestNormalizeUnit(t *testing.T) {
	if u, err := NormalizeUnit("Caps"); err != nil || u != "capsule" {
		t.Errorf("Expected capsule, got %q (%v)", u, err)
	}
	if _, err := NormalizeUnit("parsec"); err == nil {
		t.Error("Expected error for unsupported unit")
	}
}
