// Package extractor turns a free-text request into GloBI search parameters
// with a single schema-constrained model call.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai/jsonschema"

	"globiagent/internal/globi"
	"globiagent/internal/interactiontype"
	"globiagent/internal/providers"
)

const SystemPrompt = `Your task is to turn user requests into search parameters for use with Global Biotic Interactions' interactions search
API.
`

const schemaName = "interaction_search_parameters"

var ErrExtraction = errors.New("failed to generate valid search parameters")

type Config struct {
	Provider providers.StructuredProvider
	Types    *interactiontype.Registry
	Model    string
	Logger   zerolog.Logger
}

type Extractor struct {
	provider providers.StructuredProvider
	types    *interactiontype.Registry
	model    string
	schema   jsonschema.Definition
	logger   zerolog.Logger
}

func New(cfg Config) *Extractor {
	return &Extractor{
		provider: cfg.Provider,
		types:    cfg.Types,
		model:    cfg.Model,
		schema:   Schema(cfg.Types),
		logger:   cfg.Logger,
	}
}

// Schema describes SearchParameters with interaction_type limited to types.
func Schema(types *interactiontype.Registry) jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"subject_taxon": {
				Type:        jsonschema.String,
				Description: "The taxonomic group that will be interacting with other groups",
			},
			"interaction_type": {
				Type:        jsonschema.String,
				Description: "The query will match other taxonomic groups that have this type of interaction with the subject taxon",
				Enum:        types.Values(),
			},
		},
		Required:             []string{"subject_taxon", "interaction_type"},
		AdditionalProperties: false,
	}
}

// Extract returns parameters that passed validation, or an error wrapping
// ErrExtraction once the provider gives up.
func (e *Extractor) Extract(ctx context.Context, request string) (globi.SearchParameters, error) {
	raw, err := e.provider.GenerateStructured(ctx, providers.StructuredRequest{
		Model:        e.model,
		SystemPrompt: SystemPrompt,
		UserPrompt:   request,
		Temperature:  0,
		SchemaName:   schemaName,
		Schema:       e.schema,
		Validate: func(raw []byte) error {
			_, err := e.decode(raw)
			return err
		},
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("search parameter extraction failed")
		return globi.SearchParameters{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}

	params, err := e.decode(raw)
	if err != nil {
		return globi.SearchParameters{}, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	return params, nil
}

func (e *Extractor) decode(raw []byte) (globi.SearchParameters, error) {
	var p globi.SearchParameters
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("decode search parameters: %w", err)
	}
	if err := p.Validate(e.types); err != nil {
		return p, err
	}
	return p, nil
}
