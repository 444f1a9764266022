// Package fiscal provides the HTTP API over the fiscal note pipeline:
// enqueueing bills, reporting job and artifact state, serving rendered
// notes, streaming progress, and cancellation.
package fiscal

import (
	"encoding/json"
	"net/http"

	"fiscal_notes/pkg/core/artifacts"
	"fiscal_notes/pkg/core/jobs"
	"fiscal_notes/pkg/core/utils"
	"fiscal_notes/pkg/models"
)

// Handler holds dependencies for the fiscal note endpoints.
type Handler struct {
	Queue  *jobs.Queue
	Store  *artifacts.Store
	Broker *Broker
}

func NewHandler(queue *jobs.Queue, store *artifacts.Store, broker *Broker) *Handler {
	return &Handler{Queue: queue, Store: store, Broker: broker}
}

type GenerateRequest struct {
	Bill string `json:"bill"`
}

// ArtifactStatus reports which stage outputs exist on disk for a bill.
// Stage progress is read from artifact presence, never from job records.
type ArtifactStatus struct {
	Scrape       bool `json:"scrape"`
	Chronology   bool `json:"chronology"`
	RetrievalLog bool `json:"retrieval_log"`
	Numbers      bool `json:"numbers"`
	Notes        int  `json:"notes"`
	Citations    bool `json:"citations"`
	Changes      bool `json:"changes"`
}

type StatusResponse struct {
	Bill      string         `json:"bill"`
	Job       *jobs.Job      `json:"job,omitempty"`
	Artifacts ArtifactStatus `json:"artifacts"`
}

// SectionView is one rendered note section: the stored markdown plus its
// HTML rendering, in canonical section order.
type SectionView struct {
	Key      string `json:"key"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

type NoteResponse struct {
	Bill            string                       `json:"bill"`
	Document        string                       `json:"document"`
	Sections        []SectionView                `json:"sections"`
	Metadata        *models.NoteMetadata         `json:"metadata,omitempty"`
	Attributions    []models.SentenceAttribution `json:"attributions,omitempty"`
	DocumentMapping map[string]string            `json:"document_mapping,omitempty"`
	Available       []string                     `json:"available"`
}

// HandleGenerate handles POST /api/fiscal/generate.
// Enqueueing is idempotent: a bill already queued or running returns its
// existing record.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := models.ParseBillID(req.Bill); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := h.Queue.Enqueue(req.Bill)
	writeJSON(w, http.StatusAccepted, job)
}

// HandleStatus handles GET /api/fiscal/status?bill=.
// The job record may be absent (a restarted server forgets finished jobs);
// artifact presence still reports how far a bill ever got.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	bill := r.URL.Query().Get("bill")
	if _, err := models.ParseBillID(bill); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := StatusResponse{Bill: bill, Artifacts: h.artifactStatus(bill)}
	if job, ok := h.Queue.Status(bill); ok {
		resp.Job = &job
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleJobs handles GET /api/fiscal/jobs.
func (h *Handler) HandleJobs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": h.Queue.Jobs()})
}

// HandleNote handles GET /api/fiscal/note?bill=&doc=.
// doc defaults to the latest checkpoint on the bill's timeline; the
// response carries every section as stored markdown plus rendered HTML,
// with the metadata and mapping needed to resolve [n] and [m] brackets.
func (h *Handler) HandleNote(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	bill := r.URL.Query().Get("bill")
	if _, err := models.ParseBillID(bill); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	available, err := h.Store.ListNotes(bill)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(available) == 0 {
		writeError(w, http.StatusNotFound, "no notes generated for "+bill)
		return
	}

	doc := r.URL.Query().Get("doc")
	if doc == "" {
		doc = h.latestNote(bill, available)
	} else if !contains(available, doc) {
		writeError(w, http.StatusNotFound, "no note for document "+doc)
		return
	}

	var note models.FiscalNote
	if err := artifacts.ReadJSON(h.Store.NotePath(bill, doc), &note); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := NoteResponse{Bill: bill, Document: doc, Available: available}
	for _, key := range models.SectionKeys {
		body := note.Section(key)
		html, err := utils.RenderHTML(body)
		if err != nil {
			html = ""
		}
		resp.Sections = append(resp.Sections, SectionView{Key: key, Markdown: body, HTML: html})
	}

	var meta models.NoteMetadata
	if err := artifacts.ReadJSON(h.Store.NoteMetadataPath(bill, doc), &meta); err == nil {
		resp.Metadata = &meta
	}
	var attrs []models.SentenceAttribution
	if err := artifacts.ReadJSON(h.Store.AttributionsPath(bill, doc), &attrs); err == nil {
		resp.Attributions = attrs
	}
	mapping := map[string]string{}
	if err := artifacts.ReadJSON(h.Store.MappingPath(bill), &mapping); err == nil {
		resp.DocumentMapping = mapping
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleCancel handles POST /api/fiscal/cancel?bill=.
// Cancellation is cooperative: the record is flagged and the pipeline stops
// at its next document or checkpoint boundary.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != "POST" {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	bill := r.URL.Query().Get("bill")
	if !h.Queue.RequestCancel(bill) {
		writeError(w, http.StatusNotFound, "no queued or running job for "+bill)
		return
	}
	job, _ := h.Queue.Status(bill)
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) artifactStatus(bill string) ArtifactStatus {
	notes, _ := h.Store.ListNotes(bill)
	return ArtifactStatus{
		Scrape:       artifacts.Exists(h.Store.ScrapePath(bill)),
		Chronology:   artifacts.Exists(h.Store.ChronologyPath(bill)),
		RetrievalLog: artifacts.Exists(h.Store.RetrievalLogPath(bill)),
		Numbers:      artifacts.Exists(h.Store.NumbersPath(bill)),
		Notes:        len(notes),
		Citations:    artifacts.Exists(h.Store.MappingPath(bill)),
		Changes:      artifacts.Exists(h.Store.ChangesPath(bill)),
	}
}

// latestNote resolves the default document for the note endpoint: the last
// timeline entry with a stored note, falling back to the lexically last
// note when the chronology artifact is unreadable.
func (h *Handler) latestNote(bill string, available []string) string {
	var timeline models.ChronologyResult
	if err := artifacts.ReadJSON(h.Store.ChronologyPath(bill), &timeline); err == nil {
		names := timeline.DocumentNames()
		for i := len(names) - 1; i >= 0; i-- {
			if contains(available, names[i]) {
				return names[i]
			}
		}
	}
	return available[len(available)-1]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
