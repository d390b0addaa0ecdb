package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"text/template"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/hivemind-ai/hive/internal/metrics"
	"github.com/hivemind-ai/hive/llm"
)

// Manager is the catalog-backed Invoker.
type Manager struct {
	defs      map[string]Definition
	templates map[string]*template.Template
	client    llm.Client
}

// NewManager loads every *.json definition under dir. Definitions with an
// empty id or a duplicate id are skipped with a warning; a template that
// does not parse fails the load.
func NewManager(dir string, client llm.Client) (*Manager, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan capability dir %s", dir)
	}

	m := &Manager{
		defs:      make(map[string]Definition),
		templates: make(map[string]*template.Template),
		client:    client,
	}
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read capability file %s", path)
		}
		var def Definition
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, errors.Wrapf(err, "failed to parse capability file %s", path)
		}
		if def.ID == "" {
			slog.Warn("skipping capability definition with empty id", "file", path)
			continue
		}
		if _, exists := m.defs[def.ID]; exists {
			slog.Warn("skipping duplicate capability definition", "id", def.ID, "file", path)
			continue
		}
		tmpl, err := template.New(def.ID).Option("missingkey=error").Parse(def.Template)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse template of capability %s", def.ID)
		}
		m.defs[def.ID] = def
		m.templates[def.ID] = tmpl
	}
	slog.Info("capability catalog loaded", "dir", dir, "count", len(m.defs))
	return m, nil
}

// Definitions returns the loaded catalog ids.
func (m *Manager) Definitions() []string {
	ids := make([]string, 0, len(m.defs))
	for id := range m.defs {
		ids = append(ids, id)
	}
	return ids
}

// Invoke renders the capability template with the input data and calls
// the resolved provider. Unknown capability, undefined template fields,
// and missing provider/model configuration are returned as errors; a
// provider failure comes back as an Output with StatusLLMError.
func (m *Manager) Invoke(ctx context.Context, in Input) (*Output, error) {
	def, ok := m.defs[in.CapabilityID]
	if !ok {
		return nil, errors.Errorf("capability %q not found", in.CapabilityID)
	}

	var buf bytes.Buffer
	if err := m.templates[in.CapabilityID].Execute(&buf, in.Data); err != nil {
		metrics.CapabilityInvocations.WithLabelValues(in.CapabilityID, string(StatusProcessingError)).Inc()
		return nil, errors.Wrapf(err, "failed to render template of capability %s", in.CapabilityID)
	}

	provider := def.DefaultProvider
	model := def.DefaultModel
	var systemPrompt string
	if in.Overrides != nil {
		if in.Overrides.Provider != "" {
			provider = in.Overrides.Provider
		}
		if in.Overrides.Model != "" {
			model = in.Overrides.Model
		}
		systemPrompt = in.Overrides.SystemPrompt
	}
	if provider == "" {
		metrics.CapabilityInvocations.WithLabelValues(in.CapabilityID, string(StatusConfigurationError)).Inc()
		return nil, errors.Errorf("no provider configured for capability %s", in.CapabilityID)
	}
	if model == "" {
		metrics.CapabilityInvocations.WithLabelValues(in.CapabilityID, string(StatusConfigurationError)).Inc()
		return nil, errors.Errorf("no model configured for capability %s", in.CapabilityID)
	}

	out := &Output{
		RequestID:    uuid.NewString(),
		CapabilityID: in.CapabilityID,
		Request: &llm.Request{
			Model:        model,
			Prompt:       buf.String(),
			SystemPrompt: systemPrompt,
		},
	}

	resp, err := m.client.Call(ctx, provider, *out.Request)
	if err != nil {
		slog.Warn("capability provider call failed", "capability", in.CapabilityID, "provider", provider, "error", err)
		out.Status = StatusLLMError
		out.ErrorMessage = err.Error()
		metrics.CapabilityInvocations.WithLabelValues(in.CapabilityID, string(StatusLLMError)).Inc()
		return out, nil
	}

	out.Status = StatusSuccess
	out.Response = resp
	out.Usage = resp.Usage
	out.ProcessedContent = processContent(resp.Content)
	metrics.CapabilityInvocations.WithLabelValues(in.CapabilityID, string(StatusSuccess)).Inc()
	return out, nil
}

// processContent keeps structured model output structured: valid JSON
// passes through raw, anything else is wrapped as a JSON string.
func processContent(content string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(content))
	if json.Valid(trimmed) && len(trimmed) > 0 {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(content)
	return quoted
}
