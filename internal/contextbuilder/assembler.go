// Package contextbuilder implements the Context Assembler (spec §4.E): for
// each context.config.v1 consumer it fetches each configured source,
// dedupes near-identical entries, trims to a token budget, and writes the
// result to a single rolling context breadcrumb under optimistic
// concurrency. Grounded on the teacher's token-budget heuristics
// (internal/compaction/compaction.go) for size estimation and its
// record-store interface shape (internal/storage/interfaces.go) for the
// fetch surface.
package contextbuilder

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/breaderr"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// CharsPerToken is the character-to-token estimation ratio, matching the
// teacher's compaction heuristic.
const CharsPerToken = 4

// RecordStore is the subset of the Record Client the assembler depends on.
type RecordStore interface {
	Search(ctx context.Context, q SearchQuery) ([]models.Breadcrumb, error)
	VectorSearch(ctx context.Context, q VectorQuery) ([]models.Breadcrumb, error)
	Get(ctx context.Context, id string) (*models.Breadcrumb, error)
	Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error)
	Update(ctx context.Context, id string, expectedVersion int, patch models.UpdatePatch) (*models.Breadcrumb, error)
}

// SearchQuery mirrors recordclient.SearchQuery without importing that
// package, keeping the assembler independently testable.
type SearchQuery struct {
	SchemaName string
	AnyTags    []string
	AllTags    []string
	Limit      int
}

// VectorQuery mirrors recordclient.VectorSearchQuery.
type VectorQuery struct {
	SchemaName string
	Query      string
	NN         int
}

// Embedder turns breadcrumb context into a vector for similarity-based
// dedup (spec §4.E: dedup by "cosine similarity or normalized-text
// equality"). A nil Embedder falls back to normalized-text equality only.
type Embedder interface {
	Embed(text string) []float64
}

// Assembler builds and maintains one rolling context breadcrumb per consumer.
type Assembler struct {
	store    RecordStore
	embedder Embedder
}

// New builds an Assembler. embedder may be nil, in which case dedup falls
// back to normalized-text equality (spec §9 open question: embedding
// provider is left to the deployment; this runtime ships a text-equality
// fallback so the assembler is usable with no vector backend configured).
func New(store RecordStore, embedder Embedder) *Assembler {
	return &Assembler{store: store, embedder: embedder}
}

// contextEntry is one fetched breadcrumb tagged with its source key, used
// internally while deduping and budgeting.
type contextEntry struct {
	key  string
	text string
	vec  []float64
	b    models.Breadcrumb
}

// Rebuild fetches every source in cfg, dedupes, trims to the formatting
// token budget, and writes the result to consumerContextID under
// optimistic concurrency, refetching and retrying once on a version
// conflict (spec §4.E, §7). trigger is the breadcrumb whose match caused
// this rebuild; vector sources query on its content and event_data sources
// read its payload directly rather than issuing a fetch (spec §4.E step 1).
// trigger may be nil for a caller-initiated rebuild with no triggering
// event, in which case vector sources fall back to an empty query and
// event_data sources contribute nothing.
func (a *Assembler) Rebuild(ctx context.Context, consumerContextID string, cfg models.ContextConfig, trigger *models.Breadcrumb) (*models.Breadcrumb, error) {
	entries, err := a.fetchAll(ctx, cfg.Sources, trigger)
	if err != nil {
		return nil, err
	}

	formatting := cfg.Formatting
	if formatting.MaxTokens <= 0 {
		formatting = models.DefaultContextFormatting()
	}

	deduped := dedupe(entries, formatting.DeduplicationThreshold)
	budgeted := trimToBudget(deduped, formatting.MaxTokens)

	payload := buildPayload(budgeted, formatting)

	return a.write(ctx, consumerContextID, cfg.Output, payload)
}

// fetchAll runs every configured source's fetch method and flattens the
// results into contextEntry values tagged by source key. trigger supplies
// the content for vector sources and the payload for event_data sources
// (spec §4.E step 1); both are handled without a store round trip.
func (a *Assembler) fetchAll(ctx context.Context, sources []models.ContextSource, trigger *models.Breadcrumb) ([]contextEntry, error) {
	var entries []contextEntry
	for _, src := range sources {
		key := src.Key
		if key == "" {
			key = src.SchemaName
		}

		if src.Method == models.FetchEventData {
			if trigger != nil {
				entries = append(entries, contextEntry{
					key:  key,
					text: renderText(*trigger),
					vec:  a.embed(*trigger),
					b:    *trigger,
				})
			}
			continue
		}

		var fetched []models.Breadcrumb
		var err error
		switch src.Method {
		case models.FetchRecent, models.FetchLatest:
			limit := src.Limit
			if src.Method == models.FetchLatest {
				limit = 1
			} else if limit <= 0 {
				limit = 20
			}
			fetched, err = a.store.Search(ctx, SearchQuery{
				SchemaName: src.SchemaName,
				AnyTags:    src.AnyTags,
				AllTags:    src.AllTags,
				Limit:      limit,
			})
		case models.FetchVector:
			fetched, err = a.store.VectorSearch(ctx, VectorQuery{
				SchemaName: src.SchemaName,
				Query:      triggerContentOrText(trigger),
				NN:         src.NN,
			})
		default:
			err = fmt.Errorf("contextbuilder: unknown fetch method %q", src.Method)
		}
		if err != nil {
			return nil, breaderr.New(breaderr.KindFatal, "fetch source "+key, err)
		}

		for _, b := range fetched {
			entries = append(entries, contextEntry{
				key:  key,
				text: renderText(b),
				vec:  a.embed(b),
				b:    b,
			})
		}
	}
	return entries, nil
}

// triggerContentOrText extracts the text a vector source should search on
// (spec §4.E step 1: "q = trigger.content_or_text"): the trigger's title if
// set, otherwise its first recognized text-bearing context field.
func triggerContentOrText(trigger *models.Breadcrumb) string {
	if trigger == nil {
		return ""
	}
	if trigger.Title != "" {
		return trigger.Title
	}
	for _, k := range []string{"content", "text", "message", "query"} {
		if v, ok := trigger.Context[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (a *Assembler) embed(b models.Breadcrumb) []float64 {
	if a.embedder == nil {
		return nil
	}
	return a.embedder.Embed(renderText(b))
}

// renderText flattens a breadcrumb's title and context into a string used
// for both token estimation and text-equality dedup.
func renderText(b models.Breadcrumb) string {
	var sb strings.Builder
	sb.WriteString(b.Title)
	for k, v := range b.Context {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	return sb.String()
}

// dedupe drops entries that are near-duplicates of one already kept,
// measured by cosine similarity (when vectors are available) or by
// normalized-text equality otherwise. Order is preserved; later duplicates
// of an earlier entry are dropped (spec §4.E default: keep-first).
func dedupe(entries []contextEntry, threshold float64) []contextEntry {
	if threshold <= 0 {
		threshold = models.DefaultContextFormatting().DeduplicationThreshold
	}

	var kept []contextEntry
	for _, e := range entries {
		dup := false
		for _, k := range kept {
			if isDuplicate(e, k, threshold) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, e)
		}
	}
	return kept
}

func isDuplicate(a, b contextEntry, threshold float64) bool {
	if a.vec != nil && b.vec != nil {
		return cosineSimilarity(a.vec, b.vec) >= threshold
	}
	return normalizeText(a.text) == normalizeText(b.text)
}

func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// estimateTokens mirrors the teacher's character-per-token heuristic
// (compaction.EstimateTokens), applied to the rendered text of one entry.
func estimateTokens(e contextEntry) int {
	chars := len(e.text)
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// trimToBudget keeps entries (most-recently-fetched first, i.e. the order
// they were appended) until the cumulative token estimate would exceed
// maxTokens, per spec §4.E.
func trimToBudget(entries []contextEntry, maxTokens int) []contextEntry {
	if maxTokens <= 0 {
		maxTokens = models.DefaultContextFormatting().MaxTokens
	}
	var kept []contextEntry
	total := 0
	for _, e := range entries {
		t := estimateTokens(e)
		if total+t > maxTokens && len(kept) > 0 {
			break
		}
		kept = append(kept, e)
		total += t
	}
	return kept
}

// buildPayload groups budgeted entries by source key into the assembled
// context map that becomes the rolling context breadcrumb's Context field.
func buildPayload(entries []contextEntry, formatting models.ContextFormatting) map[string]any {
	byKey := make(map[string][]any)
	order := make([]string, 0)
	for _, e := range entries {
		if _, ok := byKey[e.key]; !ok {
			order = append(order, e.key)
		}
		item := map[string]any{
			"id":    e.b.ID,
			"title": e.b.Title,
		}
		if formatting.IncludeMetadata {
			item["tags"] = e.b.Tags
			item["updated_at"] = e.b.UpdatedAt
		}
		item["context"] = e.b.Context
		byKey[e.key] = append(byKey[e.key], item)
	}

	payload := make(map[string]any, len(byKey))
	for _, k := range order {
		payload[k] = byKey[k]
	}
	return payload
}

// write creates the rolling context breadcrumb if it does not exist yet, or
// updates it under optimistic concurrency, refetching and retrying once on
// a version conflict (spec §7).
func (a *Assembler) write(ctx context.Context, id string, out models.ContextOutput, payload map[string]any) (*models.Breadcrumb, error) {
	existing, err := a.store.Get(ctx, id)
	if err != nil {
		if kindOf(err) == breaderr.KindNotFound {
			var ttl *time.Time
			if out.TTLSeconds > 0 {
				t := time.Now().Add(time.Duration(out.TTLSeconds) * time.Second)
				ttl = &t
			}
			result, createErr := a.store.Create(ctx, models.CreateBreadcrumbRequest{
				SchemaName: out.SchemaName,
				Tags:       out.Tags,
				Context:    payload,
				TTL:        ttl,
			})
			if createErr != nil {
				return nil, createErr
			}
			return &models.Breadcrumb{ID: result.ID, Version: result.Version, SchemaName: out.SchemaName, Tags: out.Tags, Context: payload}, nil
		}
		return nil, err
	}

	updated, err := a.store.Update(ctx, id, existing.Version, models.UpdatePatch{Context: payload})
	if err == nil {
		return updated, nil
	}
	if kindOf(err) != breaderr.KindVersionMismatch {
		return nil, err
	}

	// refetch-and-retry-once (spec §7)
	refetched, getErr := a.store.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return a.store.Update(ctx, id, refetched.Version, models.UpdatePatch{Context: payload})
}

func kindOf(err error) breaderr.Kind {
	return breaderr.Classify(err)
}
