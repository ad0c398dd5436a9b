package trackpoll

import (
	"errors"
	"testing"
	"time"
)

func TestOpenEventExtractor(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantMatched   bool
		wantMatchedAt time.Time
		wantErr       bool
	}{
		{
			name:          "opened with epoch ms",
			body:          `{"opened":true,"events":[{"timestamp":1709294400000}]}`,
			wantMatched:   true,
			wantMatchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "opened with RFC3339",
			body:          `{"opened":true,"events":[{"timestamp":"2024-03-01T12:00:00Z"},{"timestamp":"2024-03-02T12:00:00Z"}]}`,
			wantMatched:   true,
			wantMatchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:        "opened with unreadable timestamp",
			body:        `{"opened":true,"events":[{"timestamp":"yesterday"}]}`,
			wantMatched: true,
		},
		{
			name:        "opened without timestamp",
			body:        `{"opened":true,"events":[{}]}`,
			wantMatched: true,
		},
		{name: "opened but no events", body: `{"opened":true,"events":[]}`},
		{name: "not opened", body: `{"opened":false,"events":[{"timestamp":1}]}`},
		{name: "empty object", body: `{}`},
		{name: "invalid json", body: `not json`, wantErr: true},
		{name: "wrong shape", body: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := OpenEventExtractor([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Matched != tt.wantMatched {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.wantMatched)
			}
			if !res.MatchedAt.Equal(tt.wantMatchedAt) {
				t.Errorf("MatchedAt = %v, want %v", res.MatchedAt, tt.wantMatchedAt)
			}
		})
	}
}

func TestJSONFieldExtractor(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		tsPath        string
		body          string
		wantMatched   bool
		wantMatchedAt time.Time
		wantErr       bool
	}{
		{name: "bool true", path: "read", body: `{"read":true}`, wantMatched: true},
		{name: "bool false", path: "read", body: `{"read":false}`},
		{name: "nested", path: "data.status", body: `{"data":{"status":"Opened"}}`, wantMatched: true},
		{name: "non-matching string", path: "data.status", body: `{"data":{"status":"sent"}}`},
		{name: "number", path: "opens", body: `{"opens":3}`, wantMatched: true},
		{name: "zero", path: "opens", body: `{"opens":0}`},
		{name: "array index", path: "events.0.opened", body: `{"events":[{"opened":true}]}`, wantMatched: true},
		{name: "array out of range", path: "events.2.opened", body: `{"events":[{"opened":true}]}`},
		{name: "missing field", path: "data.read", body: `{"data":{}}`},
		{name: "path through scalar", path: "data.read", body: `{"data":"x"}`},
		{name: "invalid json", path: "read", body: `{`, wantErr: true},
		{
			name:          "with timestamp",
			path:          "read",
			tsPath:        "readAt",
			body:          `{"read":true,"readAt":"2024-03-01T12:00:00Z"}`,
			wantMatched:   true,
			wantMatchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:          "numeric string timestamp",
			path:          "read",
			tsPath:        "readAt",
			body:          `{"read":"yes","readAt":"1709294400000"}`,
			wantMatched:   true,
			wantMatchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:        "timestamp ignored when not matched",
			path:        "read",
			tsPath:      "readAt",
			body:        `{"read":false,"readAt":"2024-03-01T12:00:00Z"}`,
			wantMatched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := JSONFieldExtractor(tt.path, tt.tsPath)([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Matched != tt.wantMatched {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.wantMatched)
			}
			if !res.MatchedAt.Equal(tt.wantMatchedAt) {
				t.Errorf("MatchedAt = %v, want %v", res.MatchedAt, tt.wantMatchedAt)
			}
		})
	}
}

func TestFirstMatch(t *testing.T) {
	failing := func([]byte) (ProbeResult, error) { return ProbeResult{}, errors.New("no") }
	matched := func([]byte) (ProbeResult, error) { return ProbeResult{Matched: true}, nil }
	pending := func([]byte) (ProbeResult, error) { return ProbeResult{}, nil }

	tests := []struct {
		name        string
		extractors  []Extractor
		wantMatched bool
		wantErr     bool
	}{
		{name: "first succeeds", extractors: []Extractor{matched, failing}, wantMatched: true},
		{name: "falls through failure", extractors: []Extractor{failing, matched}, wantMatched: true},
		{name: "pending stops the chain", extractors: []Extractor{pending, matched}},
		{name: "all fail", extractors: []Extractor{failing, failing}, wantErr: true},
		{name: "empty", extractors: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := FirstMatch(tt.extractors...)([]byte(`{}`))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Matched != tt.wantMatched {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.wantMatched)
			}
		})
	}
}
