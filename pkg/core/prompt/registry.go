package prompt

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Registry holds the loaded templates and schemas. The singleton registers
// the built-in defaults on first use; LoadFromDirectory replaces individual
// entries by ID.
type Registry struct {
	prompts map[string]*PromptTemplate
	schemas map[string]*ResponseSchema
	mu      sync.RWMutex
}

var globalRegistry *Registry
var once sync.Once

// Get returns the global registry, with defaults registered.
func Get() *Registry {
	once.Do(func() {
		globalRegistry = &Registry{
			prompts: make(map[string]*PromptTemplate),
			schemas: make(map[string]*ResponseSchema),
		}
		registerDefaults(globalRegistry)
	})
	return globalRegistry
}

// Register adds or replaces a template.
func (r *Registry) Register(pt *PromptTemplate) error {
	if pt.ID == "" {
		return fmt.Errorf("prompt ID cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts[pt.ID] = pt
	return nil
}

// RegisterSchema adds or replaces a response schema.
func (r *Registry) RegisterSchema(s *ResponseSchema) error {
	if s.ID == "" {
		return fmt.Errorf("schema ID cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.ID] = s
	return nil
}

// GetPrompt retrieves a template by ID.
func (r *Registry) GetPrompt(id string) (*PromptTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.prompts[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("prompt not found: %s", id)
}

// GetSchema retrieves a schema by ID.
func (r *Registry) GetSchema(id string) (*ResponseSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.schemas[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("schema not found: %s", id)
}

// SystemPrompt returns only the system prompt for an ID.
func (r *Registry) SystemPrompt(id string) (string, error) {
	pt, err := r.GetPrompt(id)
	if err != nil {
		return "", err
	}
	return pt.SystemPrompt, nil
}

// Render executes a template's user prompt against the given variables.
func (r *Registry) Render(id string, vars map[string]interface{}) (string, error) {
	pt, err := r.GetPrompt(id)
	if err != nil {
		return "", err
	}
	if pt.UserPromptTmpl == "" {
		return "", nil
	}
	tmpl, err := template.New(pt.ID).Parse(pt.UserPromptTmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", pt.ID, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", pt.ID, err)
	}
	return buf.String(), nil
}

// Count returns the number of registered templates.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts)
}

// Reset restores the registry to built-in defaults (test hook).
func (r *Registry) Reset() {
	r.mu.Lock()
	r.prompts = make(map[string]*PromptTemplate)
	r.schemas = make(map[string]*ResponseSchema)
	r.mu.Unlock()
	registerDefaults(r)
}
