// Package buildreport checks build-result notifications against their JSON schema
// before they are decoded into the grading payload.
package buildreport

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/gema-grader/internal/dto"
)

const schemaURL = "build_result.schema.json"

//go:embed build_result.schema.json
var schemaSource []byte

// ErrInvalidReport marks payloads that do not match the schema.
var ErrInvalidReport = errors.New("invalid build report")

// Validator validates and decodes build-result notifications.
type Validator struct {
	schema *jsonschema.Schema
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("load build report schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile build report schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustNew is New for package-level wiring where the embedded schema cannot fail.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Decode validates raw JSON and decodes it into a notification.
func (v *Validator) Decode(raw []byte) (dto.BuildResultNotification, error) {
	var document interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		return dto.BuildResultNotification{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if err := v.schema.Validate(document); err != nil {
		return dto.BuildResultNotification{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}

	var report dto.BuildResultNotification
	if err := json.Unmarshal(raw, &report); err != nil {
		return dto.BuildResultNotification{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	return report, nil
}
