package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Identifier", statusError, "Missing", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Identifier:", "[ERROR] Missing")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Identifier", statusOK, "abc", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestTitleLabel(t *testing.T) {
	cases := map[string]string{
		"last_backup_timestamp": "Last Backup Timestamp",
		"directory":             "Directory",
		" drifted ":             "Drifted",
	}
	for in, want := range cases {
		if got := titleLabel(in); got != want {
			t.Fatalf("titleLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Key", "Value"}, [][]string{{"a"}, {"b", "2"}}, []columnAlignment{alignLeft, alignRight})
	requireContains(t, out, "KEY")
	requireContains(t, out, "2")
	if strings.Contains(out, "<nil>") {
		t.Fatalf("short row rendered nil cell:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatal("expected empty table without headers")
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
