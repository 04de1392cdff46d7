package exchange

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The upstream occasionally returns JSON with trailing garbage or truncated
// arrays. The fallback parser extracts the flat key/value pairs the
// orchestrator needs (public keys, amounts, transaction ids, statuses) and
// feeds them through the same struct decoding as the primary path, so
// downstream code never branches on which parser succeeded.

var (
	stringFieldRe = regexp.MustCompile(`"([^"]+)"\s*:\s*"([^"]*)"`)
	numberFieldRe = regexp.MustCompile(`"([^"]+)"\s*:\s*(-?[0-9]+(?:\.[0-9]+)?)`)
	boolFieldRe   = regexp.MustCompile(`"([^"]+)"\s*:\s*(true|false)`)
)

// decodeWithFallback decodes body into out, falling back to regex field
// extraction when strict JSON decoding fails.
func decodeWithFallback(body []byte, out any, operation string) error {
	if err := json.Unmarshal(body, out); err == nil {
		return nil
	}

	fields, ok := extractFields(body)
	if !ok {
		return &ParseError{Operation: operation, Err: fmt.Errorf("no recognisable fields in response body")}
	}

	recoded, err := json.Marshal(fields)
	if err != nil {
		return &ParseError{Operation: operation, Err: err}
	}
	if err := json.Unmarshal(recoded, out); err != nil {
		return &ParseError{Operation: operation, Err: err}
	}
	return nil
}

// extractFields pulls flat key/value pairs out of a malformed JSON object.
// String matches win over numeric ones so quoted numbers stay strings.
func extractFields(body []byte) (map[string]any, bool) {
	text := strings.TrimSpace(string(body))
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}

	fields := make(map[string]any)

	for _, m := range numberFieldRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			fields[m[1]] = v
		}
	}
	for _, m := range boolFieldRe.FindAllStringSubmatch(text, -1) {
		fields[m[1]] = m[2] == "true"
	}
	for _, m := range stringFieldRe.FindAllStringSubmatch(text, -1) {
		fields[m[1]] = m[2]
	}

	return fields, len(fields) > 0
}
