package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/quill/pkg/common"
	"github.com/OFFIS-RIT/quill/pkg/indexer"
)

// offline keeps the runtime away from models and BPE downloads.
func offline(t *testing.T) {
	t.Helper()
	t.Setenv("AI_ADAPTER", "none")
	t.Setenv("TOKEN_ENCODER", "none")
	t.Setenv("VECTOR_BACKEND", "memory")
	t.Setenv("LOCK_BACKEND", "memory")
	t.Setenv("SNAPSHOT_BACKEND", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("NEO4J_URI", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeManuscript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"part1/ch01.md":  "# Arrival\n\nSarah climbed the temple stairs and found the crystal.",
		"part1/ch02.txt": "Marcus waited at the gate while the storm rolled in.",
		"notes.pdf":      "%PDF",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return dir
}

func TestIndexThenQuery(t *testing.T) {
	offline(t)
	manuscript := writeManuscript(t)
	state := t.TempDir()

	out, err := run(t, "index", manuscript, "--state", state, "-c", "novel", "--json")
	if err != nil {
		t.Fatalf("index: %v\n%s", err, out)
	}
	var res indexer.FolderResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode index output: %v\n%s", err, out)
	}
	if res.DocumentsIndexed != 2 {
		t.Fatalf("DocumentsIndexed = %d, want 2", res.DocumentsIndexed)
	}

	out, err = run(t, "search", "temple", "crystal", "--state", state, "-c", "novel", "--type", "vector", "--json")
	if err != nil {
		t.Fatalf("search: %v\n%s", err, out)
	}
	var search indexer.SearchResponse
	if err := json.Unmarshal([]byte(out), &search); err != nil {
		t.Fatalf("decode search output: %v\n%s", err, out)
	}
	if len(search.Results) == 0 || search.Results[0].DocID != "part1/ch01.md" {
		t.Fatalf("unexpected search results %+v", search.Results)
	}

	out, err = run(t, "status", "--state", state, "-c", "novel")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "part1/ch02.txt") || !strings.Contains(out, "Arrival") {
		t.Fatalf("status output missing documents:\n%s", out)
	}

	out, err = run(t, "export", "--state", state, "-c", "novel")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var graph common.GraphData
	if err := json.Unmarshal([]byte(out), &graph); err != nil {
		t.Fatalf("decode export: %v\n%s", err, out)
	}
}

func TestCollectionsAreSeparate(t *testing.T) {
	offline(t)
	manuscript := writeManuscript(t)
	state := t.TempDir()

	if _, err := run(t, "index", manuscript, "--state", state, "-c", "novel"); err != nil {
		t.Fatalf("index: %v", err)
	}
	out, err := run(t, "status", "--state", state, "-c", "other", "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"documents": []`) && !strings.Contains(out, `"documents": null`) {
		t.Fatalf("expected empty collection, got:\n%s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	offline(t)
	state := t.TempDir()

	tests := []struct {
		name string
		args []string
	}{
		{"index without args", []string{"index"}},
		{"index missing path", []string{"index", filepath.Join(state, "missing")}},
		{"index empty folder", []string{"index", t.TempDir()}},
		{"unknown check type", []string{"check", "Emma", "is", "20.", "--type", "weather"}},
		{"bad search type", []string{"search", "x", "--type", "fuzzy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, append(tt.args, "--state", state)...); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestWatchedDocID(t *testing.T) {
	root := filepath.FromSlash("/books/novel")
	single := filepath.FromSlash("/drafts/scene.md")
	roots := []watchRoot{{path: root, isDir: true}, {path: single}}

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{filepath.Join(root, "part1", "ch01.md"), "part1/ch01.md", true},
		{filepath.Join(root, ".scene.md.swp"), "", false},
		{single, "scene.md", true},
		{filepath.FromSlash("/drafts/other.md"), "", false},
		{filepath.FromSlash("/books/novel-2/ch01.md"), "", false},
	}
	for _, tt := range tests {
		got, ok := watchedDocID(roots, tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("watchedDocID(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("a\n  b\tc", 10); got != "a b c" {
		t.Fatalf("oneLine = %q", got)
	}
	if got := oneLine("abcdefghij", 5); got != "abcd…" {
		t.Fatalf("oneLine = %q", got)
	}
}
