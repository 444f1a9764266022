package attribution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fiscal_notes/pkg/core/embedding"
	"fiscal_notes/pkg/core/faults"
	"fiscal_notes/pkg/core/notes"
	"fiscal_notes/pkg/core/utils"
	"fiscal_notes/pkg/models"
)

// maxAttributedChunks caps the candidate passages recorded per sentence.
const maxAttributedChunks = 3

// maxChunkChars bounds one embedding passage. Longer paragraphs are split
// on sentence boundaries.
const maxChunkChars = 1200

// Enhancer runs the citation pass over a bill's generated notes. A nil
// embedding engine disables sentence attribution but leaves the [n]/[m]
// rewriting intact.
type Enhancer struct {
	engine      embedding.Engine
	retryBase   time.Duration
	maxAttempts int
}

func NewEnhancer(engine embedding.Engine) *Enhancer {
	return &Enhancer{
		engine:      engine,
		retryBase:   2 * time.Second,
		maxAttempts: 4,
	}
}

// NoteBundle pairs one checkpoint's generated note with its metadata.
type NoteBundle struct {
	Checkpoint string
	Note       *models.FiscalNote
	Meta       *models.NoteMetadata
}

// EnhancedNote is one rewritten note: bodies carry [n]/[m] brackets, the
// metadata carries the numnum map, and every sentence has an attribution
// record.
type EnhancedNote struct {
	Checkpoint   string
	Note         *models.FiscalNote
	Meta         *models.NoteMetadata
	Attributions []models.SentenceAttribution
}

// Result carries everything the citation stage persists.
type Result struct {
	DocumentMapping map[string]string
	Notes           []EnhancedNote
}

// Enhance rewrites every note of a bill. docNames is the chronological
// document order (it defines the docnum namespace), all is the full
// extractor output, and docsDir holds the extracted text files used as
// attribution passages. Visibility per note is reconstructed from the
// note's recorded predecessors, so amounts from later drafts never pick up
// citations in earlier notes.
func (e *Enhancer) Enhance(ctx context.Context, bill models.BillID, docNames []string, all []models.MoneyOccurrence, bundles []NoteBundle, docsDir string) (*Result, error) {
	idx := newDocIndex(docNames)
	cache := newChunkCache(docsDir)
	res := &Result{DocumentMapping: idx.Mapping()}

	if e.engine == nil && len(bundles) > 0 {
		fmt.Printf("⚠️  No embedding engine configured, skipping sentence attribution\n")
	}

	for _, bundle := range bundles {
		fmt.Printf("🔗 Attributing citations for %s\n", bundle.Checkpoint)

		attrs, err := e.attributeSentences(ctx, idx, cache, bundle.Note)
		if err != nil {
			return nil, err
		}

		visible := notes.VisibleNumbers(all, bundle.Meta.Predecessors)
		mc := newMoneyCiter(bill, visible)

		rewritten := *bundle.Note
		docRefs := 0
		for _, key := range models.SectionKeys {
			body := mc.decorate(rewritten.Section(key))
			body, n := idx.replaceDocRefs(body)
			docRefs += n
			rewritten.SetSection(key, body)
		}

		meta := *bundle.Meta
		if len(mc.citations) > 0 {
			meta.MoneyCitations = mc.citations
		}

		attributed := 0
		for _, a := range attrs {
			if a.BestChunkIndex >= 0 {
				attributed++
			}
		}
		fmt.Printf("✅ %s: %d document references, %d money citations, %d/%d sentences attributed\n",
			bundle.Checkpoint, docRefs, len(mc.citations), attributed, len(attrs))

		res.Notes = append(res.Notes, EnhancedNote{
			Checkpoint:   bundle.Checkpoint,
			Note:         &rewritten,
			Meta:         &meta,
			Attributions: attrs,
		})
	}
	return res, nil
}

// attributeSentences scores every sentence of the note against passages
// from the documents its parentheticals cite. The whole note embeds in one
// batched call. Attribution runs before the bodies are rewritten, while
// the parenthetical references still exist.
func (e *Enhancer) attributeSentences(ctx context.Context, idx *docIndex, cache *chunkCache, note *models.FiscalNote) ([]models.SentenceAttribution, error) {
	type pending struct {
		sentence string
		refs     []string
	}
	var work []pending
	for _, key := range models.SectionKeys {
		for _, sentence := range utils.SplitSentences(note.Section(key)) {
			work = append(work, pending{sentence: sentence, refs: idx.citedDocs(sentence)})
		}
	}

	texts := make([]string, 0, len(work))
	pos := map[string]int{}
	add := func(t string) {
		if _, ok := pos[t]; !ok {
			pos[t] = len(texts)
			texts = append(texts, t)
		}
	}
	needEmbed := false
	for _, w := range work {
		hasChunk := false
		for _, ref := range w.refs {
			for _, ch := range cache.get(ref) {
				add(ch)
				hasChunk = true
			}
		}
		if hasChunk {
			add(w.sentence)
			needEmbed = true
		}
	}

	var vecs map[string][]float32
	if needEmbed && e.engine != nil {
		raw, err := e.embedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		vecs = make(map[string][]float32, len(texts))
		for i, t := range texts {
			vecs[t] = embedding.Normalize(raw[i])
		}
	}

	out := make([]models.SentenceAttribution, 0, len(work))
	for _, w := range work {
		attr := models.SentenceAttribution{
			SentenceText:     w.sentence,
			AttributedChunks: []models.AttributedChunk{},
			BestChunkIndex:   -1,
		}
		if sv := vecs[w.sentence]; sv != nil {
			var cands []models.AttributedChunk
			for _, ref := range w.refs {
				for _, ch := range cache.get(ref) {
					cv := vecs[ch]
					if cv == nil {
						continue
					}
					cands = append(cands, models.AttributedChunk{
						Filename:  ref + ".txt",
						ChunkText: ch,
						Score:     embedding.Cosine(sv, cv),
					})
				}
			}
			sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
			if len(cands) > maxAttributedChunks {
				cands = cands[:maxAttributedChunks]
			}
			if len(cands) > 0 {
				attr.AttributedChunks = cands
				attr.BestChunkIndex = 0
			}
		}
		out = append(out, attr)
	}
	return out, nil
}

// embedBatch retries transport failures with exponential backoff, mirroring
// the LLM client's policy.
func (e *Enhancer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.retryBase * time.Duration(1<<(attempt-1))
			fmt.Printf("⚠️  Embedding call failed (%v), retrying in %s (attempt %d/%d)\n",
				lastErr, delay, attempt+1, e.maxAttempts)
			select {
			case <-ctx.Done():
				return nil, faults.Wrap(faults.LLMTransportError, "attribution.embed", ctx.Err())
			case <-time.After(delay):
			}
		}
		vecs, err := e.engine.EmbedBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
	}
	return nil, faults.Wrap(faults.LLMTransportError, "attribution.embed", lastErr)
}

// chunkCache lazily loads and paragraph-chunks document text. Missing or
// unreadable documents yield no passages; the sentence then attributes to
// nothing, which is the honest answer.
type chunkCache struct {
	docsDir string
	chunks  map[string][]string
}

func newChunkCache(docsDir string) *chunkCache {
	return &chunkCache{docsDir: docsDir, chunks: map[string][]string{}}
}

func (c *chunkCache) get(name string) []string {
	if chunks, ok := c.chunks[name]; ok {
		return chunks
	}
	data, err := os.ReadFile(filepath.Join(c.docsDir, name+".txt"))
	if err != nil {
		c.chunks[name] = nil
		return nil
	}
	chunks := chunkText(string(data))
	c.chunks[name] = chunks
	return chunks
}

// chunkText splits document text into paragraph passages, further splitting
// any paragraph past maxChunkChars on sentence boundaries.
func chunkText(text string) []string {
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= maxChunkChars {
			chunks = append(chunks, para)
			continue
		}
		var cur strings.Builder
		for _, s := range utils.SplitSentences(para) {
			if cur.Len() > 0 && cur.Len()+len(s)+1 > maxChunkChars {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(s)
		}
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
		}
	}
	return chunks
}
