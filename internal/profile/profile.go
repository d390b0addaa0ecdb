package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration needed to start the engine.
type Profile struct {
	Mode    string // demo, dev, prod
	Data    string // data directory for the embedded database
	DSN     string
	Driver  string // sqlite
	Version string

	// CapabilityDir holds the capability definition JSON files.
	CapabilityDir string

	// SchedulerInterval is the pause between scheduling cycles.
	SchedulerInterval time.Duration

	// LLMTimeout bounds a single provider call.
	LLMTimeout time.Duration

	// LLMRequestsPerSecond throttles each provider client.
	LLMRequestsPerSecond float64

	// Providers maps provider name to its connection settings. Populated
	// from <PROVIDER>_API_KEY and <PROVIDER>_API_ENDPOINT.
	Providers map[string]LLMProvider
}

// LLMProvider is one named OpenAI-compatible endpoint.
type LLMProvider struct {
	APIKey   string
	Endpoint string
}

// Default endpoints for known providers, used when the endpoint env var is
// not set.
var llmProviderDefaults = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1",
	"requesty":   "https://router.requesty.ai/v1",
}

// DefaultProviders lists the providers loaded when HIVE_LLM_PROVIDERS is
// not set.
const DefaultProviders = "openrouter,requesty"

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvOrDefaultSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

// FromEnv loads provider credentials and tuning knobs from environment
// variables. Provider names come from HIVE_LLM_PROVIDERS; each provider
// reads <PROVIDER>_API_KEY and <PROVIDER>_API_ENDPOINT.
func (p *Profile) FromEnv() {
	p.CapabilityDir = getEnvOrDefault("HIVE_CAPABILITY_DIR", p.CapabilityDir)
	p.SchedulerInterval = getEnvOrDefaultSeconds("HIVE_SCHEDULER_INTERVAL_SECONDS", p.SchedulerInterval)
	p.LLMTimeout = getEnvOrDefaultSeconds("HIVE_LLM_TIMEOUT_SECONDS", p.LLMTimeout)
	p.LLMRequestsPerSecond = getEnvOrDefaultFloat("HIVE_LLM_REQUESTS_PER_SECOND", p.LLMRequestsPerSecond)

	names := strings.Split(getEnvOrDefault("HIVE_LLM_PROVIDERS", DefaultProviders), ",")
	p.Providers = make(map[string]LLMProvider, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		prefix := strings.ToUpper(name)
		p.Providers[name] = LLMProvider{
			APIKey:   os.Getenv(prefix + "_API_KEY"),
			Endpoint: getEnvOrDefault(prefix+"_API_ENDPOINT", llmProviderDefaults[name]),
		}
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and rejects configurations the engine
// cannot start with. In prod every configured provider must have an API
// key; in dev and demo keyless providers are dropped with a warning.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.CapabilityDir == "" {
		p.CapabilityDir = "config/capabilities"
	}
	if p.SchedulerInterval <= 0 {
		p.SchedulerInterval = time.Second
	}
	if p.LLMTimeout <= 0 {
		p.LLMTimeout = 120 * time.Second
	}
	if p.LLMRequestsPerSecond <= 0 {
		p.LLMRequestsPerSecond = 2
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("hive_%s.db", p.Mode))
	}

	for name, provider := range p.Providers {
		if provider.APIKey != "" {
			continue
		}
		if p.Mode == "prod" {
			return errors.Errorf("provider %q has no API key (set %s_API_KEY)", name, strings.ToUpper(name))
		}
		slog.Warn("dropping provider without API key", slog.String("provider", name))
		delete(p.Providers, name)
	}
	return nil
}
