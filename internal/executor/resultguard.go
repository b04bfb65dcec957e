package executor

import (
	"encoding/json"
	"regexp"
)

// DefaultMaxResponseBytes bounds a response breadcrumb's serialized output
// before it is truncated, preventing a runaway tool/agent from writing an
// oversized payload into the record store. Grounded on the teacher's
// DefaultMaxToolResultSize (internal/agent/tool_result_guard.go).
const DefaultMaxResponseBytes = 64 * 1024

// secretPatterns are applied to a response's serialized output before it is
// persisted, redacting values that look like credentials a handler
// accidentally echoed back. Carried over verbatim from the teacher's
// builtinSecretPatterns.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

const redactionText = "[REDACTED]"
const truncateSuffix = "...[truncated]"

// guardOutput redacts secret-shaped substrings from output's serialized form
// and truncates it past maxBytes, returning output unchanged when it is
// already small and clean (the common case). Applied to every emitted
// response breadcrumb (spec §4.F, §7: tool/agent output must not leak
// secrets into the record store).
func guardOutput(output any, maxBytes int) any {
	if output == nil {
		return nil
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return output
	}
	text := string(raw)

	redacted := text
	for _, re := range secretPatterns {
		redacted = re.ReplaceAllString(redacted, redactionText)
	}

	if maxBytes > 0 && len(redacted) > maxBytes {
		redacted = redacted[:maxBytes] + truncateSuffix
	}

	if redacted == text {
		return output
	}

	// The guard only rewrites strings/maps in a structurally safe way by
	// re-wrapping the guarded text rather than attempting to re-parse
	// possibly-truncated JSON.
	return map[string]any{"guarded_output": redacted}
}
