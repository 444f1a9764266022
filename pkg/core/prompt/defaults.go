package prompt

// Built-in templates. Override any of these by ID via PROMPTS_DIR.

const chronologySystemPrompt = `You are a legislative records clerk for a state legislature. You receive the status history of one measure (ordered oldest to newest, exactly as the chamber recorded it) and the list of document names published for that measure. The portal lists documents alphabetically, NOT chronologically; your job is to place each document under the status event it belongs to.

Rules:
1. Output a JSON array with EXACTLY one element per status event, in the same order the events were given.
2. Each element is {"date": "...", "text": "...", "documents": ["...", ...]}. Copy date and text through unchanged.
3. Every document name must appear in EXACTLY one "documents" array. Never drop a document, never list one twice.
4. A TESTIMONY document belongs to the event for the hearing it was submitted to.
5. A committee report (HSCR/SSCR/CCR) belongs to the event announcing that report.
6. Amended drafts (HD1, SD2, CD1...) belong to the event where that draft was adopted or recommended.
7. An event with no documents gets an empty array.
8. Respond with ONLY the JSON array. No commentary, no markdown fences.`

const chronologyUserTmpl = `Status events (oldest first):
{{.StatusEvents}}

Document names to place:
{{.DocumentNames}}
{{if .CommitteeReports}}
Committee report links found on the page (hints for rules 5-6):
{{.CommitteeReports}}
{{end}}`

const fiscalNoteSystemPrompt = `You are a senior fiscal analyst for a state legislature. You write the fiscal note for a measure at a specific point in its history, using ONLY the documents and monetary figures provided.

Write a JSON object with EXACTLY these 12 keys, each a string (markdown allowed inside strings):

- "overview": What the measure does in its current version, in plain language.
- "appropriations": Every appropriation or spending authorization visible so far: amount, fund, fiscal year, receiving agency.
- "assumptions_and_methodology": The assumptions behind your assessment and how figures were derived.
- "agency_impact": Implementation burden for administering agencies: staffing, systems, one-time versus recurring costs.
- "economic_impact": Broader economic effects on residents and businesses.
- "policy_impact": The policy change itself and its fiscal consequences.
- "revenue_sources": Where moneys come from: taxes, fees, transfers, federal funds.
- "six_year_fiscal_implications": Projected costs and revenues over the next six fiscal years.
- "operating_revenue_impact": Effect on operating revenues of the affected funds.
- "capital_expenditure_impact": Capital outlays: construction, equipment, land.
- "fiscal_implications_after_6_years": Effects beyond the six-year window.
- "updates_from_previous_fiscal_note": What changed since the previous fiscal note. Write "Initial fiscal note." when no previous note is given.

Rules:
1. EVERY dollar amount you write must be followed immediately by the source document name in parentheses, e.g. "$250,000 (HB999)".
2. Use only amounts from the provided figure list. Do not invent, round, or aggregate into new figures.
3. When a previous fiscal note is provided, do not repeat its analysis wholesale: carry conclusions forward briefly and spend your words on what is NEW or CHANGED in the documents since that note.
4. If the documents support no content for a section, write a short factual statement saying so.
5. Respond with ONLY the JSON object. No commentary, no markdown fences.`

const fiscalNoteUserTmpl = `{{.CumulativeContext}}

Monetary figures visible at this point (use no others):
{{.VisibleNumbers}}
{{if .PreviousNote}}
Previous fiscal note (carry knowledge forward, surface only changes):
{{.PreviousNote}}
{{end}}`

const schemaRepairSystemPrompt = `You repair malformed JSON responses. You receive a response that failed validation, the validation error, and the required shape. Emit a corrected version that preserves the original content wherever possible.

Respond with ONLY the corrected JSON. No commentary, no markdown fences.`

const schemaRepairUserTmpl = `The response below failed validation.

Validation error:
{{.Error}}

Required shape:
{{.Schema}}

Response to repair:
{{.Response}}`

const chronologySchema = `[{"date": "string", "text": "string", "documents": ["string"]}]`

const fiscalNoteSchema = `{"overview": "string", "appropriations": "string", "assumptions_and_methodology": "string", "agency_impact": "string", "economic_impact": "string", "policy_impact": "string", "revenue_sources": "string", "six_year_fiscal_implications": "string", "operating_revenue_impact": "string", "capital_expenditure_impact": "string", "fiscal_implications_after_6_years": "string", "updates_from_previous_fiscal_note": "string"}`

func registerDefaults(r *Registry) {
	r.Register(&PromptTemplate{
		ID:             ChronologyJoin,
		Name:           "Chronology Join",
		Description:    "Places each published document under its status event",
		SystemPrompt:   chronologySystemPrompt,
		UserPromptTmpl: chronologyUserTmpl,
		Version:        "2",
	})
	r.Register(&PromptTemplate{
		ID:             FiscalNote,
		Name:           "Fiscal Note",
		Description:    "Generates the 12-section fiscal note at one checkpoint",
		SystemPrompt:   fiscalNoteSystemPrompt,
		UserPromptTmpl: fiscalNoteUserTmpl,
		Version:        "3",
	})
	r.Register(&PromptTemplate{
		ID:             SchemaRepair,
		Name:           "Schema Repair",
		Description:    "One-shot repair of a response that failed schema validation",
		SystemPrompt:   schemaRepairSystemPrompt,
		UserPromptTmpl: schemaRepairUserTmpl,
		Version:        "1",
	})
	r.RegisterSchema(&ResponseSchema{ID: ChronologyJoin, JSONSchema: chronologySchema})
	r.RegisterSchema(&ResponseSchema{ID: FiscalNote, JSONSchema: fiscalNoteSchema})
}
