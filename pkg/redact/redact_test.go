package redact

import (
	"strings"
	"testing"
)

const sampleQuery = "restock the iPhone and email me at a@b.com or call +62 812 3456 7890"

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	if got := Text(sampleQuery); got != sampleQuery {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	got := Text(sampleQuery)
	if got == sampleQuery {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if !strings.Contains(got, "restock the iPhone") {
		t.Fatalf("expected the query text preserved, got %q", got)
	}
}

func TestRedactLeavesProductQueriesAlone(t *testing.T) {
	SetEnabled(true)
	in := "which products have fewer than 3 units?"
	if got := Text(in); got != in {
		t.Fatalf("expected plain query untouched, got %q", got)
	}
}
