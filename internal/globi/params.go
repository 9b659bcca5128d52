package globi

import (
	"errors"
	"fmt"
	"strings"

	"globiagent/internal/interactiontype"
)

var ErrEmptySubjectTaxon = errors.New("subject_taxon is empty")

// SearchParameters is the structured query derived from a user request.
type SearchParameters struct {
	SubjectTaxon    string `json:"subject_taxon"`
	InteractionType string `json:"interaction_type"`
}

// Validate checks the taxon is present and the interaction type belongs to types.
func (p SearchParameters) Validate(types *interactiontype.Registry) error {
	if strings.TrimSpace(p.SubjectTaxon) == "" {
		return ErrEmptySubjectTaxon
	}
	if err := types.Validate(p.InteractionType); err != nil {
		return fmt.Errorf("interaction_type: %w", err)
	}
	return nil
}

// LogData is the form the parameters take in progress notifications.
func (p SearchParameters) LogData() map[string]any {
	return map[string]any{
		"subject_taxon":    p.SubjectTaxon,
		"interaction_type": p.InteractionType,
	}
}
