package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode extracts a QueryPlan from raw planner output. LLM responses wrap
// JSON in prose or markdown fences more often than not, so decoding runs an
// ordered list of pure strategies and takes the first that yields a plan.
// Decode does not normalize; callers pass the result through Normalize.
func Decode(text string) (*QueryPlan, error) {
	strategies := []func(string) (string, bool){
		extractVerbatim,
		extractFencedBlock,
		extractBalancedBraces,
	}
	var lastErr error
	for _, extract := range strategies {
		candidate, ok := extract(text)
		if !ok {
			continue
		}
		var p QueryPlan
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			lastErr = err
			continue
		}
		return &p, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrPlanMalformed, lastErr)
	}
	return nil, fmt.Errorf("%w: no JSON object found in planner output", ErrPlanMalformed)
}

func extractVerbatim(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	return "", false
}

func extractFencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start == -1 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.ContainsAny(rest[:nl], "{}") {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractBalancedBraces scans for the first balanced top-level JSON object.
func extractBalancedBraces(text string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
