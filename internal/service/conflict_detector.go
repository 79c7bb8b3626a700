package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/catalog"
	"github.com/meditrek-engine/internal/domain"
)

// DefaultConfidenceThreshold is the minimum predictor confidence for an advisory.
const DefaultConfidenceThreshold = 0.7

// ConflictDetector matches a candidate medicine against a regimen using the
// interaction catalog, optionally adding advisory predictions.
type ConflictDetector struct {
	catalog   *catalog.Catalog
	predictor domain.SeverityPredictor
	threshold float64
	logger    *logrus.Logger
}

// NewConflictDetector creates a detector. predictor may be nil.
func NewConflictDetector(cat *catalog.Catalog, predictor domain.SeverityPredictor, threshold float64, logger *logrus.Logger) *ConflictDetector {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &ConflictDetector{
		catalog:   cat,
		predictor: predictor,
		threshold: threshold,
		logger:    logger,
	}
}

// Check reports every catalog rule that the candidate completes together with
// the active medicines. A rule matches when all its drugs are in
// active ∪ {candidate} and it names the candidate.
func (d *ConflictDetector) Check(ctx context.Context, active []string, candidate string) (*domain.ConflictReport, error) {
	c := d.catalog.Canonical(candidate)
	if c == "" {
		return nil, domain.NewValidationError("candidate", "candidate medicine is required", candidate)
	}
	if !d.catalog.IsKnown(c) {
		return nil, fmt.Errorf("%q: %w", candidate, domain.ErrUnknownMedicine)
	}

	set := map[string]struct{}{c: {}}
	var others []string
	for _, name := range active {
		n := d.catalog.Canonical(name)
		if n == "" {
			continue
		}
		if _, dup := set[n]; dup {
			continue
		}
		set[n] = struct{}{}
		others = append(others, n)
	}
	sort.Strings(others)

	var matched []catalog.Rule
	for _, rule := range d.catalog.RulesFor(c) {
		if rule.CoveredBy(set) {
			matched = append(matched, rule)
		}
	}
	sortRules(matched)

	report := &domain.ConflictReport{
		Candidate:  c,
		Verdict:    domain.SeverityNone,
		Matches:    make([]domain.InteractionRule, 0, len(matched)),
		Advisories: []domain.AdvisoryPrediction{},
	}
	for _, r := range matched {
		report.Matches = append(report.Matches, r.InteractionRule)
		report.Verdict = domain.MaxSeverity(report.Verdict, r.Severity)
	}

	if d.predictor != nil {
		advisories, ok := d.advise(ctx, c, others, matched)
		if ok {
			report.Advisories = advisories
			report.PredictorConsulted = true
		}
	}

	return report, nil
}

// advise asks the predictor about every (active, candidate) pair that no
// matched rule covers. Any predictor failure drops all advisories.
func (d *ConflictDetector) advise(ctx context.Context, candidate string, others []string, matched []catalog.Rule) ([]domain.AdvisoryPrediction, bool) {
	out := []domain.AdvisoryPrediction{}
	for _, other := range others {
		if coveredPair(matched, other, candidate) {
			continue
		}

		p, err := d.predictor.Predict(ctx, other, candidate)
		if err != nil {
			d.logger.WithFields(logrus.Fields{
				"candidate": candidate,
				"drug":      other,
			}).WithError(err).Warn("Severity predictor unavailable, using catalog matches only")
			return nil, false
		}

		if p.Severity == domain.SeverityNone || !p.Severity.IsValid() || p.Confidence < d.threshold {
			continue
		}
		out = append(out, domain.AdvisoryPrediction{
			Drugs:      []string{other, candidate},
			Severity:   p.Severity,
			Confidence: p.Confidence,
			Advisory:   true,
		})
	}
	return out, true
}

func coveredPair(rules []catalog.Rule, a, b string) bool {
	for _, r := range rules {
		if r.Involves(a) && r.Involves(b) {
			return true
		}
	}
	return false
}

// sortRules orders by severity descending, then rule id.
func sortRules(rules []catalog.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		ri, rj := rules[i].Severity.Rank(), rules[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return rules[i].ID < rules[j].ID
	})
}

// Scan reports every catalog rule fully contained in the medicine list.
// Unknown names are listed but do not fail the scan.
func (d *ConflictDetector) Scan(medicines []string) *domain.RegimenScan {
	set := make(map[string]struct{}, len(medicines))
	scan := &domain.RegimenScan{
		Verdict: domain.SeverityNone,
		Matches: []domain.InteractionRule{},
	}
	for _, name := range medicines {
		n := d.catalog.Canonical(name)
		if n == "" {
			continue
		}
		if _, dup := set[n]; dup {
			continue
		}
		set[n] = struct{}{}
		scan.Medicines = append(scan.Medicines, n)
		if !d.catalog.IsKnown(n) {
			scan.Unknown = append(scan.Unknown, n)
		}
	}
	sort.Strings(scan.Medicines)
	sort.Strings(scan.Unknown)

	var matched []catalog.Rule
	seen := make(map[string]bool)
	for _, n := range scan.Medicines {
		for _, rule := range d.catalog.RulesFor(n) {
			if seen[rule.ID] || !rule.CoveredBy(set) {
				continue
			}
			seen[rule.ID] = true
			matched = append(matched, rule)
		}
	}
	sortRules(matched)

	for _, r := range matched {
		scan.Matches = append(scan.Matches, r.InteractionRule)
		scan.Verdict = domain.MaxSeverity(scan.Verdict, r.Severity)
	}
	return scan
}
