// Package contract implements versioned extraction contracts. A contract
// pairs the JSON Schema that extraction payloads must satisfy with the
// prompt template that instructs the model to produce them. Extractions
// record the contract name and version they were produced under, so a
// payload can always be re-validated against the exact rules that
// accepted it.
package contract

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExcerptPlaceholder marks where the evidence text is inserted into a
// prompt template.
const ExcerptPlaceholder = "{{EXCERPT}}"

// Contract is one version of the extraction contract.
type Contract struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Version        int             `json:"version"`
	Schema         json.RawMessage `json:"schema"`
	PromptTemplate string          `json:"prompt_template"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Ref identifies a contract version, as recorded on extractions.
type Ref struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Ref returns the contract's identifying reference.
func (c *Contract) Ref() Ref {
	return Ref{Name: c.Name, Version: c.Version}
}

// Compiled is a contract with its JSON Schema compiled for validation.
type Compiled struct {
	Contract
	schema *jsonschema.Schema
}

// NewCompiled pairs a contract with its compiled schema.
func NewCompiled(c Contract, schema *jsonschema.Schema) *Compiled {
	return &Compiled{Contract: c, schema: schema}
}

// BuildPrompt renders the contract's prompt template with the evidence
// excerpt inserted.
func (c *Compiled) BuildPrompt(excerpt string) string {
	return strings.ReplaceAll(c.PromptTemplate, ExcerptPlaceholder, excerpt)
}

// ValidatePayload checks a decoded payload against the contract schema.
// The argument must be the result of unmarshalling JSON into any.
func (c *Compiled) ValidatePayload(payload any) error {
	return c.schema.Validate(payload)
}

// CreateCommand carries the data needed to register a new contract
// version. Version is assigned by the repository as max(version)+1 for
// the name.
type CreateCommand struct {
	Name           string          `json:"name"`
	Schema         json.RawMessage `json:"schema"`
	PromptTemplate string          `json:"prompt_template"`
}
