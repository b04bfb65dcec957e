package selector

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// Matches decides whether event satisfies selector, per spec §4.B:
//   - schema_name, if set, must equal exactly.
//   - any_tags, if set, must intersect event.tags.
//   - all_tags, if set, must all be present in event.tags.
//   - context_match predicates are each evaluated against event.context.
//
// Deferred-predicate rule: when event carries no Context (a "thin" SSE
// frame) and the selector declares context_match predicates, Matches
// returns true so the caller can route the event and re-check predicates
// once the full breadcrumb is fetched (see Recheck).
func Matches(event *models.Event, sel models.Selector) bool {
	if sel.SchemaName != "" && event.SchemaName != sel.SchemaName {
		return false
	}
	if len(sel.AnyTags) > 0 && !intersects(sel.AnyTags, event.Tags) {
		return false
	}
	if len(sel.AllTags) > 0 && !containsAll(sel.AllTags, event.Tags) {
		return false
	}
	if len(sel.ContextMatch) > 0 {
		if event.Context == nil {
			return true // deferred: re-check once the full record is fetched
		}
		for _, pred := range sel.ContextMatch {
			if !evalPredicate(event.Context, pred) {
				return false
			}
		}
	}
	return true
}

// MatchesBreadcrumb is Matches applied to a fully-fetched breadcrumb, used
// by the Universal Executor to re-evaluate deferred predicates (spec §4.F
// step 4) once Context is available.
func MatchesBreadcrumb(b *models.Breadcrumb, sel models.Selector) bool {
	return Matches(&models.Event{
		SchemaName: b.SchemaName,
		Tags:       b.Tags,
		Context:    b.Context,
	}, sel)
}

// Deferred reports whether sel has context_match predicates that Matches
// could not evaluate against a thin event (no Context present).
func Deferred(event *models.Event, sel models.Selector) bool {
	return len(sel.ContextMatch) > 0 && event.Context == nil
}

func intersects(want, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, t := range have {
		haveSet[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := haveSet[t]; ok {
			return true
		}
	}
	return false
}

func containsAll(want, have []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, t := range have {
		haveSet[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := haveSet[t]; !ok {
			return false
		}
	}
	return true
}

func evalPredicate(ctx map[string]any, pred models.ContextMatchPredicate) bool {
	val, ok := Eval(ctx, pred.Path)
	if !ok {
		return pred.Op == models.OpNe
	}
	switch pred.Op {
	case models.OpEq:
		return compareEqual(val, pred.Value)
	case models.OpNe:
		return !compareEqual(val, pred.Value)
	case models.OpGt:
		return compareOrdered(val, pred.Value) > 0
	case models.OpLt:
		return compareOrdered(val, pred.Value) < 0
	case models.OpContains:
		return containsValue(val, pred.Value)
	case models.OpContainsAny:
		return containsAny(val, pred.Value)
	default:
		return false
	}
}

func compareEqual(a, b any) bool {
	return fmt.Sprintf("%v", normalize(a)) == fmt.Sprintf("%v", normalize(b))
}

func normalize(v any) any {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case int:
		return int64(n)
	default:
		return v
	}
}

func compareOrdered(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	return strings.Compare(as, bs)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsValue(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if compareEqual(item, needle) {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(h, s)
	default:
		return false
	}
}

func containsAny(haystack, needle any) bool {
	needles, ok := needle.([]any)
	if !ok {
		return containsValue(haystack, needle)
	}
	for _, n := range needles {
		if containsValue(haystack, n) {
			return true
		}
	}
	return false
}
