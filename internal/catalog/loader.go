package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/meditrek-engine/internal/domain"
)

//go:embed data/catalog.json
var embeddedCatalog []byte

type document struct {
	Medicines    []domain.MedicineRecord `json:"medicines"`
	Interactions []struct {
		ID             string   `json:"id"`
		Drugs          []string `json:"drugs"`
		Severity       string   `json:"severity"`
		Description    string   `json:"description"`
		Recommendation string   `json:"recommendation"`
		Mechanism      string   `json:"mechanism"`
	} `json:"interactions"`
}

// LoadJSON reads a catalog document of the form
// {"medicines": [...], "interactions": [...]}.
func LoadJSON(r io.Reader) (*Catalog, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	rules := make([]domain.InteractionRule, 0, len(doc.Interactions))
	for _, in := range doc.Interactions {
		sev, err := domain.ParseSeverity(in.Severity)
		if err != nil {
			return nil, fmt.Errorf("rule %v: %w", in.Drugs, err)
		}
		rules = append(rules, domain.InteractionRule{
			ID:             in.ID,
			Drugs:          in.Drugs,
			Severity:       sev,
			Description:    in.Description,
			Recommendation: in.Recommendation,
			Mechanism:      in.Mechanism,
		})
	}

	return New(doc.Medicines, rules)
}

// LoadFile reads a JSON catalog from path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()

	return LoadJSON(f)
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return LoadJSON(bytes.NewReader(embeddedCatalog))
}
