package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsComplete(t *testing.T) {
	set := Default()
	if set.Conflict.Model != "gpt-4o" || set.Spelling.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected models %+v", set)
	}
	if !strings.Contains(set.Conflict.System, "get_policy_content") {
		t.Fatalf("conflict prompt should mention its tools")
	}
	if set.Sanitize.MaxTokens != 16000 {
		t.Fatalf("unexpected sanitize max tokens %d", set.Sanitize.MaxTokens)
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	set, err := Parse([]byte("spelling:\n  model: local-model\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if set.Spelling.Model != "local-model" {
		t.Fatalf("override ignored: %q", set.Spelling.Model)
	}
	if set.Spelling.System == "" || set.Conflict.Model != "gpt-4o" {
		t.Fatalf("defaults lost: %+v", set)
	}
}

func TestParseRejectsBlankModel(t *testing.T) {
	if _, err := Parse([]byte("conflict:\n  model: \"\"\n")); err == nil {
		t.Fatalf("expected error for blank model")
	}
	if _, err := Parse([]byte("   ")); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	if err := os.WriteFile(path, []byte("compliance:\n  system: Be strict.\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	set, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.Compliance.System != "Be strict." {
		t.Fatalf("unexpected system prompt %q", set.Compliance.System)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
