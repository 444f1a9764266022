// Package prompt is the prompt library for the pipeline's LLM stages: the
// chronology join and the fiscal-note generation. Built-in templates are
// registered on first use; operators can override any of them by pointing
// PROMPTS_DIR at a directory of JSON template files.
package prompt

// PromptTemplate is one reusable prompt. UserPromptTmpl is a Go
// text/template executed against a map of variables.
type PromptTemplate struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	SystemPrompt   string `json:"system_prompt"`
	UserPromptTmpl string `json:"user_prompt_template"`
	Version        string `json:"version"`
}

// ResponseSchema documents the JSON shape a template demands back. The
// schema text is embedded into prompts verbatim; validation happens in the
// calling stage.
type ResponseSchema struct {
	ID         string `json:"id"`
	JSONSchema string `json:"json_schema"`
}

// IDs of the built-in templates.
const (
	ChronologyJoin = "fiscal.chronology_join"
	FiscalNote     = "fiscal.note"
	SchemaRepair   = "fiscal.schema_repair"
)
