package recordclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/haasonsaas/breadcrumb/internal/breaderr"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// ConnectSSE opens the record store's event stream and delivers decoded
// Events onto the returned channel until ctx is cancelled or the connection
// drops, at which point the channel is closed. Reconnect/backoff is the
// caller's responsibility (the Dispatcher owns that policy, spec §4.D) —
// this is a single connection attempt, mirroring the teacher's per-attempt
// connectSSE split from its reconnect loop (internal/mcp/transport_http.go).
func (c *Client) ConnectSSE(ctx context.Context) (<-chan *models.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/breadcrumbs/stream", nil)
	if err != nil {
		return nil, breaderr.New(breaderr.KindFatal, "connect_sse", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if tok := c.tokens.Get(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, breaderr.New(breaderr.KindTransient, "connect_sse", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		kind := breaderr.FromStatusCode(resp.StatusCode)
		return nil, breaderr.New(kind, "connect_sse", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	out := make(chan *models.Event, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			ev, ok := decodeEventLenient(data)
			if !ok {
				if c.logger != nil {
					c.logger.Warn("dropped malformed sse frame", "data", truncateForLog(data))
				}
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// decodeEventLenient parses one SSE data payload into an Event. Per spec
// §4.D/§9, malformed frames first get a straight JSON parse; on failure a
// lenient repair pass (repairJSON) attempts to recover common
// intermediary-induced malformations (an unterminated trailing string, a
// trailing or duplicated comma) and retries the parse once; if that still
// fails the frame is dropped with a warning rather than tearing down the
// connection.
func decodeEventLenient(data string) (*models.Event, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, false
	}

	var ev models.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		repaired, ok := repairJSON(data)
		if !ok {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &ev); err != nil {
			return nil, false
		}
	}
	if ev.Type == "" {
		return nil, false
	}
	return &ev, true
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	duplicateCommaRe = regexp.MustCompile(`,\s*,+`)
)

// repairJSON attempts the lenient recovery pass named in spec §4.D/§9:
// collapse duplicate commas, drop a trailing comma before a closing brace
// or bracket, and close an unterminated trailing string and any
// still-open braces/brackets. It is a best-effort textual patch, not a
// parser — callers must still re-attempt json.Unmarshal on the result.
func repairJSON(data string) (string, bool) {
	repaired := duplicateCommaRe.ReplaceAllString(data, ",")
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	repaired = closeUnterminated(repaired)
	if repaired == data {
		return "", false
	}
	return repaired, true
}

// closeUnterminated balances an SSE frame truncated mid-string or
// mid-structure: if the frame ends inside an open (unescaped) string
// literal, it is closed first, then any still-unbalanced `{`/`[` are
// closed in LIFO order.
func closeUnterminated(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, byte(r))
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// truncateForLog bounds how much of a malformed frame is logged, avoiding
// unbounded log lines from a pathological payload.
func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}
