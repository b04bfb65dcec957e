// Package models provides the wire-level domain types shared between the
// breadcrumb runtime and external consumers (the record store, executors,
// and anything that serializes a breadcrumb over HTTP or SSE).
package models

import (
	"encoding/json"
	"time"
)

// Breadcrumb is the universal record persisted by the record store.
// (id, version) identifies an immutable snapshot; every reference from one
// breadcrumb to another is by id or by a tag expression, never an in-process
// pointer.
type Breadcrumb struct {
	ID         string         `json:"id"`
	SchemaName string         `json:"schema_name"`
	Title      string         `json:"title,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Version    int            `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	CreatedBy  string         `json:"created_by,omitempty"`
	TTL        *time.Time     `json:"ttl,omitempty"`
	Visibility string         `json:"visibility,omitempty"`
	Sensitivity string        `json:"sensitivity,omitempty"`
}

// HasTag reports whether the breadcrumb carries the given tag.
func (b *Breadcrumb) HasTag(tag string) bool {
	if b == nil {
		return false
	}
	for _, t := range b.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TagSet returns the breadcrumb's tags as a set for intersection/containment tests.
func (b *Breadcrumb) TagSet() map[string]struct{} {
	set := make(map[string]struct{}, len(b.Tags))
	for _, t := range b.Tags {
		set[t] = struct{}{}
	}
	return set
}

// Expired reports whether the breadcrumb's TTL has passed as of now.
func (b *Breadcrumb) Expired(now time.Time) bool {
	if b == nil || b.TTL == nil {
		return false
	}
	return now.After(*b.TTL)
}

// CreateBreadcrumbRequest is the body of a Record Client create call.
type CreateBreadcrumbRequest struct {
	SchemaName  string         `json:"schema_name"`
	Title       string         `json:"title,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	TTL         *time.Time     `json:"ttl,omitempty"`
	Visibility  string         `json:"visibility,omitempty"`
	Sensitivity string         `json:"sensitivity,omitempty"`
}

// CreateBreadcrumbResult is returned by a successful create call.
type CreateBreadcrumbResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

// UpdatePatch is a partial update body sent with an If-Match version header.
type UpdatePatch struct {
	Title       *string        `json:"title,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	TTL         *time.Time     `json:"ttl,omitempty"`
	Visibility  *string        `json:"visibility,omitempty"`
	Sensitivity *string        `json:"sensitivity,omitempty"`
}

// EventType discriminates the frames delivered on the SSE stream.
type EventType string

const (
	EventBreadcrumbCreated EventType = "breadcrumb.created"
	EventBreadcrumbUpdated EventType = "breadcrumb.updated"
	EventBreadcrumbDeleted EventType = "breadcrumb.deleted"
	EventPing              EventType = "ping"
)

// Event is the thin metadata frame delivered over SSE. Context may be absent
// ("thin" event); consumers that need the full payload fetch it via the
// Record Client's Get operation.
type Event struct {
	Type         EventType      `json:"type"`
	BreadcrumbID string         `json:"breadcrumb_id"`
	SchemaName   string         `json:"schema_name,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// Role distinguishes whether a selector invokes its owner or merely refreshes
// one of its context sources.
type Role string

const (
	RoleTrigger Role = "trigger"
	RoleContext Role = "context"
)

// FetchMethod names a context-source retrieval strategy.
type FetchMethod string

const (
	FetchRecent    FetchMethod = "recent"
	FetchLatest    FetchMethod = "latest"
	FetchVector    FetchMethod = "vector"
	FetchEventData FetchMethod = "event_data"
)

// ContextMatchOp is a JSONPath predicate comparison operator.
type ContextMatchOp string

const (
	OpEq          ContextMatchOp = "eq"
	OpNe          ContextMatchOp = "ne"
	OpGt          ContextMatchOp = "gt"
	OpLt          ContextMatchOp = "lt"
	OpContains    ContextMatchOp = "contains"
	OpContainsAny ContextMatchOp = "contains_any"
)

// ContextMatchPredicate evaluates a single JSONPath comparison against a
// breadcrumb's context.
type ContextMatchPredicate struct {
	Path  string         `json:"path"`
	Op    ContextMatchOp `json:"op"`
	Value any            `json:"value"`
}

// FetchSpec configures how a context subscription retrieves its source data.
type FetchSpec struct {
	Method FetchMethod `json:"method"`
	Limit  int         `json:"limit,omitempty"`
	NN     int         `json:"nn,omitempty"`
}

// Selector is the declarative subscription filter a consumer registers with
// the dispatcher. Empty/unspecified fields act as wildcards.
type Selector struct {
	SchemaName   string                  `json:"schema_name,omitempty"`
	AnyTags      []string                `json:"any_tags,omitempty"`
	AllTags      []string                `json:"all_tags,omitempty"`
	ContextMatch []ContextMatchPredicate `json:"context_match,omitempty"`
	Role         Role                    `json:"role"`
	Key          string                  `json:"key,omitempty"`
	Fetch        *FetchSpec              `json:"fetch,omitempty"`
	Priority     int                     `json:"priority,omitempty"`
	Comment      string                  `json:"comment,omitempty"`
}

// EffectiveKey returns the subscription's bucket key in the assembled
// context map: the explicit key if set, else the schema name.
func (s Selector) EffectiveKey() string {
	if s.Key != "" {
		return s.Key
	}
	return s.SchemaName
}

// ConsumerKind identifies which Executor variant a consumer definition binds to.
type ConsumerKind string

const (
	ConsumerAgent    ConsumerKind = "agent"
	ConsumerTool     ConsumerKind = "tool"
	ConsumerWorkflow ConsumerKind = "workflow"
	ConsumerContext  ConsumerKind = "context"
)

// Capabilities gates what a consumer is permitted to do at emission time.
type Capabilities struct {
	CanEmit   bool     `json:"can_emit"`
	CanDelete bool     `json:"can_delete"`
	Workspace string   `json:"workspace,omitempty"`
	AllowTags []string `json:"allow_tags,omitempty"`
}

// ConsumerDefinition is the stored record describing an agent, tool,
// workflow or context-builder consumer and its subscriptions.
type ConsumerDefinition struct {
	ID           string         `json:"id"`
	Kind         ConsumerKind   `json:"kind"`
	Subscriptions struct {
		Selectors []Selector `json:"selectors"`
	} `json:"subscriptions"`
	Handler      map[string]any `json:"handler,omitempty"`
	Capabilities Capabilities   `json:"capabilities"`
	// InputSchema, when set on a tool-kind definition, is a JSON Schema the
	// trigger breadcrumb's Context must satisfy before the handler runs.
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
