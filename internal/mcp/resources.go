package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/meditrek-engine/internal/domain"
)

const (
	medicinesURI = "meditrek://catalog/medicines"
	rulesURI     = "meditrek://catalog/rules"
)

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         medicinesURI,
		Name:        "medicine-catalog",
		Description: "Medicines known to the interaction catalog",
		MIMEType:    "application/json",
	}, s.readMedicines)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         rulesURI,
		Name:        "interaction-rules",
		Description: "Pair and triple interaction rules with severity and recommendation",
		MIMEType:    "application/json",
	}, s.readRules)
}

func (s *Server) readMedicines(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(medicinesURI, s.engine.Catalog().Medicines())
}

func (s *Server) readRules(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	rules := s.engine.Catalog().Rules()
	out := make([]domain.InteractionRule, len(rules))
	for i, r := range rules {
		out[i] = r.InteractionRule
	}
	return jsonResource(rulesURI, out)
}

func jsonResource(uri string, v interface{}) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        "medication_review",
		Description: "Review a patient's regimen for interactions and adherence problems",
		Arguments: []*mcp.PromptArgument{
			{Name: "patient_id", Description: "Patient to review", Required: true},
		},
	}, s.medicationReviewPrompt)
}

// medicationReviewPrompt embeds the current regimen scan and adherence state so
// the client model reviews facts rather than guessing them.
func (s *Server) medicationReviewPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	patientID := req.Params.Arguments["patient_id"]
	if patientID == "" {
		return nil, domain.NewValidationError("patient_id", "patient_id is required", patientID)
	}

	entries, err := s.engine.ListRegimen(ctx, patientID, false)
	if err != nil {
		return nil, err
	}
	state, err := s.engine.GetAdherenceState(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review the medication regimen of patient %s.\n\nActive medicines:\n", patientID)
	if len(entries) == 0 {
		b.WriteString("- none\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s", e.MedicineName)
		if e.Dosage != "" {
			fmt.Fprintf(&b, " %s", e.Dosage)
		}
		if e.Purpose != "" {
			fmt.Fprintf(&b, " (for %s)", e.Purpose)
		}
		b.WriteString("\n")
	}

	if len(entries) > 0 {
		scan, err := s.engine.ScanPatientRegimen(ctx, patientID)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "\nCatalog interaction verdict: %s\n", scan.Verdict)
		for _, m := range scan.Matches {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", m.Severity, strings.Join(m.Drugs, " + "), m.Recommendation)
		}
	}

	fmt.Fprintf(&b, "\nAdherence: current streak %d days, longest %d, level %d.\n",
		state.CurrentStreak, state.LongestStreak, state.Level)
	if state.SevenDayRate != nil {
		fmt.Fprintf(&b, "7-day rate %.0f%%.\n", *state.SevenDayRate*100)
	}
	b.WriteString("\nSummarize the interaction risks, point out missed-dose patterns and suggest questions for the prescriber. Do not recommend stopping a medicine.")

	return &mcp.GetPromptResult{
		Description: "Medication review for " + patientID,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: b.String()}},
		},
	}, nil
}
