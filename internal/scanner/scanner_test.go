package scanner

import (
	"testing"
	"time"
)

const sampleAxeOutput = `{
	"timestamp": "2026-02-01T10:00:00.000Z",
	"url": "https://example.com/",
	"violations": [
		{
			"id": "image-alt",
			"impact": "critical",
			"description": "Ensures <img> elements have alternate text",
			"help": "Images must have alternate text",
			"helpUrl": "https://dequeuniversity.com/rules/axe/4.8/image-alt",
			"tags": ["wcag2a"],
			"nodes": [{"target": ["img.logo"], "html": "<img class=\"logo\">"}]
		}
	],
	"passes": [{"id": "document-title"}, {"id": "html-has-lang"}],
	"incomplete": []
}`

func TestParseAxeResults(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	res, err := parseAxeResults("https://example.com", []byte(sampleAxeOutput), now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].ID != "image-alt" {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	if res.Passes != 2 || res.Incomplete != 0 {
		t.Fatalf("unexpected counts: passes=%d incomplete=%d", res.Passes, res.Incomplete)
	}
	if res.Timestamp.Hour() != 10 {
		t.Fatalf("expected timestamp from axe output, got %v", res.Timestamp)
	}
	if res.IssueCount() != 1 {
		t.Fatalf("expected one issue, got %d", res.IssueCount())
	}
}

func TestParseAxeResultsDefaults(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	res, err := parseAxeResults("https://example.com/", []byte(`{}`), now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.URL != "https://example.com/" || !res.Timestamp.Equal(now) {
		t.Fatalf("expected defaults, got %+v", res)
	}
	if res.Violations == nil {
		t.Fatal("violations must be an empty slice, not nil")
	}
}

func TestParseAxeResultsInvalidJSON(t *testing.T) {
	if _, err := parseAxeResults("https://example.com/", []byte(`not json`), time.Now()); err == nil {
		t.Fatal("expected decode error")
	}
}
