package trackpoll

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OpenEventExtractor is the default [Extractor]. It reads the tracking API's
// open report:
//
//	{"opened": true, "events": [{"timestamp": 1717171717000}]}
//
// The condition is met when "opened" is true and "events" is non-empty.
// MatchedAt is taken from the first event's "timestamp", which may be epoch
// milliseconds or an RFC 3339 string; an unreadable timestamp leaves
// MatchedAt zero rather than failing the probe.
//
// A body that is not a JSON object is an error.
var OpenEventExtractor Extractor = func(body []byte) (ProbeResult, error) {
	var report struct {
		Opened bool `json:"opened"`
		Events []struct {
			Timestamp any `json:"timestamp"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return ProbeResult{}, fmt.Errorf("decode tracking report: %w", err)
	}

	if !report.Opened || len(report.Events) == 0 {
		return ProbeResult{}, nil
	}

	matchedAt, _ := parseTimestamp(report.Events[0].Timestamp)
	return ProbeResult{Matched: true, MatchedAt: matchedAt}, nil
}

// JSONFieldExtractor returns an [Extractor] that reads the condition from a
// JSON field using dot notation to navigate nested objects. Numeric segments
// index into arrays, so "events.0.opened" reads the first element.
//
// The field counts as matched when it is true, a non-zero number, or one of
// the strings "true", "yes", "opened", "open", "done", "completed" (case
// insensitive). A missing field is "not yet", not an error.
//
// If timestampPath is non-empty it names the field holding MatchedAt, in
// epoch milliseconds or RFC 3339.
//
// Example:
//
//	// For response: {"data": {"read": true, "readAt": "2024-03-01T12:00:00Z"}}
//	extractor := trackpoll.JSONFieldExtractor("data.read", "data.readAt")
func JSONFieldExtractor(path, timestampPath string) Extractor {
	parts := strings.Split(path, ".")
	var tsParts []string
	if timestampPath != "" {
		tsParts = strings.Split(timestampPath, ".")
	}

	return func(body []byte) (ProbeResult, error) {
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return ProbeResult{}, fmt.Errorf("decode response: %w", err)
		}

		value, ok := extractJSONPath(data, parts)
		if !ok || !truthy(value) {
			return ProbeResult{}, nil
		}

		res := ProbeResult{Matched: true}
		if tsParts != nil {
			if raw, ok := extractJSONPath(data, tsParts); ok {
				res.MatchedAt, _ = parseTimestamp(raw)
			}
		}
		return res, nil
	}
}

// FirstMatch returns an [Extractor] that tries each extractor in order and
// returns the result of the first one that succeeds.
//
// If every extractor fails, the last error is returned. This is useful when
// the tracking API may answer in more than one shape.
//
// Example:
//
//	extractor := trackpoll.FirstMatch(
//	    trackpoll.JSONFieldExtractor("read", "readAt"),
//	    trackpoll.OpenEventExtractor,
//	)
func FirstMatch(extractors ...Extractor) Extractor {
	return func(body []byte) (ProbeResult, error) {
		err := errors.New("no extractors configured")
		for _, extractor := range extractors {
			var res ProbeResult
			res, err = extractor(body)
			if err == nil {
				return res, nil
			}
		}
		return ProbeResult{}, err
	}
}

// extractJSONPath walks a JSON structure using dot notation parts.
func extractJSONPath(data any, parts []string) (any, bool) {
	current := data

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "opened", "open", "done", "completed":
			return true
		}
	}
	return false
}

// parseTimestamp accepts epoch milliseconds (number or numeric string) or an
// RFC 3339 string.
func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case float64:
		return time.UnixMilli(int64(ts)).UTC(), nil
	case string:
		if ms, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}
