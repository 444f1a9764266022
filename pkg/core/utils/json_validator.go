package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// StripCodeFences removes markdown code fences and any conversational text
// around the outermost JSON value. LLM responses routinely arrive as
// "```json\n{...}\n```" or with a sentence of preamble; downstream parsing
// always starts from the cleaned form.
func StripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Cut to the outermost JSON value when prose surrounds it.
	start := strings.IndexAny(cleaned, "{[")
	if start < 0 {
		return cleaned
	}
	var end int
	if cleaned[start] == '{' {
		end = strings.LastIndex(cleaned, "}")
	} else {
		end = strings.LastIndex(cleaned, "]")
	}
	if end > start {
		return cleaned[start : end+1]
	}
	return cleaned
}

// RepairJSON fixes common LLM JSON defects (single quotes, trailing commas,
// unclosed brackets, bare keys) via github.com/RealAlexandreAI/json-repair.
func RepairJSON(malformed string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformed)
	if err != nil {
		return "", fmt.Errorf("json repair failed: %v", err)
	}
	return repaired, nil
}

// ParseHJSON parses human-friendly JSON (comments, unquoted keys, optional
// commas) and re-emits standard JSON. Last resort for badly mangled output.
func ParseHJSON(input string) (string, error) {
	var value interface{}
	if err := hjson.Unmarshal([]byte(input), &value); err != nil {
		return "", fmt.Errorf("hjson parse failed: %v", err)
	}
	out, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("hjson remarshal failed: %v", err)
	}
	return string(out), nil
}

// SmartParse decodes LLM output into schema, trying strategies from strict
// to lenient:
//  1. standard JSON
//  2. json-repair, then standard JSON
//  3. hjson, then standard JSON
//
// The input is fence-stripped first. Returns the JSON text that finally
// decoded, so callers can persist what was actually accepted.
func SmartParse(input string, schema interface{}) (string, error) {
	cleaned := StripCodeFences(input)

	if err := json.Unmarshal([]byte(cleaned), schema); err == nil {
		return cleaned, nil
	}

	if repaired, err := RepairJSON(cleaned); err == nil {
		if err := json.Unmarshal([]byte(repaired), schema); err == nil {
			return repaired, nil
		}
	}

	if relaxed, err := ParseHJSON(cleaned); err == nil {
		if err := json.Unmarshal([]byte(relaxed), schema); err == nil {
			return relaxed, nil
		}
	}

	return "", fmt.Errorf("all parsing strategies failed")
}

// RequireKeys verifies that jsonText is an object containing every listed
// key. The chronology and note schemas are all-keys-required; a missing key
// means the model dropped a section and the response must be rejected, not
// silently zero-filled.
func RequireKeys(jsonText string, keys []string) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return fmt.Errorf("not a JSON object: %v", err)
	}
	var missing []string
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
