// Package dosage parses free-text dose strings such as "500 mg", "2 tablets"
// or "5ml" into an amount and a canonical unit.
package dosage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/meditrek-engine/internal/domain"
)

var dosePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?|\.\d+)\s*([a-zA-Zµμ]+(?:\s[a-zA-Z]+)?)?$`)

// unitAliases maps accepted spellings to the canonical unit
var unitAliases = map[string]string{
	"mg": "mg", "milligram": "mg", "milligrams": "mg",
	"g": "g", "gram": "g", "grams": "g",
	"mcg": "mcg", "µg": "mcg", "μg": "mcg", "ug": "mcg", "microgram": "mcg", "micrograms": "mcg",
	"ml": "ml", "millilitre": "ml", "milliliter": "ml", "millilitres": "ml", "milliliters": "ml",
	"l": "l",
	"iu": "iu", "units": "iu", "unit": "iu",
	"tablet": "tablet", "tablets": "tablet", "tab": "tablet", "tabs": "tablet",
	"capsule": "capsule", "capsules": "capsule", "cap": "capsule", "caps": "capsule",
	"drop": "drop", "drops": "drop",
	"puff": "puff", "puffs": "puff",
	"patch": "patch", "patches": "patch",
	"spray": "spray", "sprays": "spray",
	"sachet": "sachet", "sachets": "sachet",
}

// Dose is a parsed dose.
type Dose struct {
	Amount float64 `json:"amount"`
	Unit   string  `json:"unit"`
}

// String renders the dose in canonical form, e.g. "500 mg".
func (d Dose) String() string {
	return fmt.Sprintf("%s %s", strconv.FormatFloat(d.Amount, 'f', -1, 64), d.Unit)
}

// Parse parses a dose string. A bare number is read as a count of tablets.
func Parse(input string) (Dose, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return Dose{}, domain.NewValidationError("dosage", "dosage cannot be empty", input)
	}

	m := dosePattern.FindStringSubmatch(s)
	if m == nil {
		return Dose{}, domain.NewValidationError("dosage", "expected an amount followed by a unit, e.g. \"500 mg\"", input)
	}

	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil || amount <= 0 {
		return Dose{}, domain.NewValidationError("dosage", "amount must be a positive number", input)
	}

	unit := "tablet"
	if m[2] != "" {
		u, err := NormalizeUnit(m[2])
		if err != nil {
			return Dose{}, err
		}
		unit = u
	}

	return Dose{Amount: amount, Unit: unit}, nil
}

// NormalizeUnit returns the canonical spelling of a dose unit.
func NormalizeUnit(unit string) (string, error) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return "", domain.NewValidationError("dose_unit", "unsupported unit", unit)
	}
	return u, nil
}
