// Package schema validates connector payloads at the intake boundary before they reach
// the pipeline.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/dronewatch/internal/incident"
)

//go:embed candidate.schema.json
var candidateSchemaJSON string

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateCandidatePayload checks payload against the candidate schema and the semantic
// rules of incident.Candidate. Every failure wraps incident.ErrMalformed.
func ValidateCandidatePayload(payload json.RawMessage) (incident.Candidate, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return incident.Candidate{}, fmt.Errorf("%w: decode payload JSON: %v", incident.ErrMalformed, err)
	}

	schema, err := loadSchema()
	if err != nil {
		return incident.Candidate{}, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return incident.Candidate{}, fmt.Errorf("%w: schema validation failed: %v", incident.ErrMalformed, err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return incident.Candidate{}, fmt.Errorf("normalize payload JSON: %w", err)
	}
	var candidate incident.Candidate
	if err := json.Unmarshal(normalized, &candidate); err != nil {
		return incident.Candidate{}, fmt.Errorf("%w: unmarshal payload: %v", incident.ErrMalformed, err)
	}

	if err := validateSemantics(candidate); err != nil {
		return incident.Candidate{}, err
	}
	return candidate, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("candidate.schema.json", strings.NewReader(candidateSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("candidate.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateSemantics(c incident.Candidate) error {
	if err := c.Validate(); err != nil {
		return err
	}
	for i, source := range c.Sources {
		if strings.TrimSpace(source.URL) == "" {
			continue
		}
		if err := validateURI(fmt.Sprintf("sources[%d].url", i), source.URL); err != nil {
			return fmt.Errorf("%w: %v", incident.ErrMalformed, err)
		}
	}
	return nil
}

func validateURI(fieldName, value string) error {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", fieldName)
	}
	return nil
}
