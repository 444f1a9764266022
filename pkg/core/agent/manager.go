// Package agent routes the pipeline's LLM roles to concrete providers.
// Routing comes from config/models.yaml when present; otherwise the
// environment decides (LLM_ENDPOINT set → the OpenAI-compatible endpoint,
// else Gemini).
package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"fiscal_notes/pkg/core/llm"
)

// Roles the pipeline asks for.
const (
	RoleChronology = "chronology"
	RoleFiscalNote = "fiscal_note"
)

type Config struct {
	ActiveProvider string                 `yaml:"active_provider"`
	Agents         map[string]AgentConfig `yaml:"agents"`
}

type AgentConfig struct {
	Provider    string `yaml:"provider"` // optional override
	Model       string `yaml:"model"`    // optional override
	Description string `yaml:"description"`
}

type Manager struct {
	config    Config
	providers map[string]llm.Provider
}

// LoadConfig reads a models.yaml routing file; a missing file yields the
// environment-driven default routing.
func LoadConfig(path string) Config {
	cfg := Config{ActiveProvider: defaultProvider()}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		fmt.Printf("⚠️  Failed to parse %s, using defaults: %v\n", path, err)
		return Config{ActiveProvider: defaultProvider()}
	}
	if cfg.ActiveProvider == "" {
		cfg.ActiveProvider = defaultProvider()
	}
	return cfg
}

func defaultProvider() string {
	if os.Getenv("LLM_ENDPOINT") != "" {
		return "endpoint"
	}
	return "gemini"
}

func NewManager(config Config) *Manager {
	return &Manager{
		config: config,
		providers: map[string]llm.Provider{
			"gemini":   &llm.GeminiProvider{},
			"endpoint": &llm.EndpointProvider{},
		},
	}
}

// Provider resolves a role to its provider: per-role override first, then
// the global active provider, then Gemini.
func (m *Manager) Provider(role string) llm.Provider {
	if agentConfig, ok := m.config.Agents[role]; ok && agentConfig.Provider != "" {
		if p, ok := m.providers[agentConfig.Provider]; ok {
			return p
		}
	}
	if p, ok := m.providers[m.config.ActiveProvider]; ok {
		return p
	}
	return m.providers["gemini"]
}

// Model returns the per-role model override, or "".
func (m *Manager) Model(role string) string {
	if agentConfig, ok := m.config.Agents[role]; ok {
		return agentConfig.Model
	}
	return ""
}

// Client builds the policy-wrapped client for a role.
func (m *Manager) Client(role string) *llm.Client {
	return llm.NewClient(m.Provider(role))
}

// ActiveProvider reports the global routing target.
func (m *Manager) ActiveProvider() string {
	return m.config.ActiveProvider
}
