// Package capability loads the catalog of prompt-template capabilities
// and invokes them against an LLM provider. A capability is a named,
// versioned prompt contract: agents address work by capability id and
// parse the structured content the template asks the model to produce.
package capability

import (
	"context"
	"encoding/json"

	"github.com/hivemind-ai/hive/llm"
)

// Status classifies the outcome of an invocation.
type Status string

const (
	StatusSuccess            Status = "Success"
	StatusLLMError           Status = "LLMError"
	StatusProcessingError    Status = "ProcessingError"
	StatusConfigurationError Status = "ConfigurationError"
)

// Definition is one entry of the capability catalog, loaded from JSON.
type Definition struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Template        string `json:"template"`
	DefaultProvider string `json:"default_provider,omitempty"`
	DefaultModel    string `json:"default_model,omitempty"`
	LogicModulePath string `json:"logic_module_path,omitempty"`
}

// ContextOverrides let the caller pin provider, model, or system prompt
// for one invocation. Empty fields fall back to the definition defaults.
type ContextOverrides struct {
	Provider     string
	Model        string
	SystemPrompt string
}

// Input addresses a capability with template data.
type Input struct {
	CapabilityID string
	Data         map[string]any
	Overrides    *ContextOverrides
}

// Output is the result of an invocation. A provider failure is reported
// as a non-error Output with StatusLLMError so callers can distinguish
// "the model call failed" from "the invocation was malformed".
type Output struct {
	RequestID        string
	CapabilityID     string
	Status           Status
	Request          *llm.Request
	Response         *llm.Response
	ProcessedContent json.RawMessage
	ErrorMessage     string
	Usage            *llm.TokenUsage
}

// Invoker executes capabilities.
type Invoker interface {
	Invoke(ctx context.Context, in Input) (*Output, error)
}
