package llm

import "testing"

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"plain":                     "plain",
		"```json\n{\"a\":1}\n```":   `{"a":1}`,
		"```\nbody\n```":            "body",
		"  ```markdown\n# T\n```  ": "# T",
		// Prose around a fence is not a wrapper.
		"Sure!\n```json\n{\"a\":1}\n```": "Sure!\n```json\n{\"a\":1}\n```",
	}
	for in, want := range cases {
		if got := StripFence(in); got != want {
			t.Fatalf("StripFence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStripFenceKeepsInnerBlocks(t *testing.T) {
	transcript := "# Policy\n\nIntro text.\n\n```\nexample\n```\n\nMore paragraphs follow."
	if got := StripFence(transcript); got != transcript {
		t.Fatalf("inner fence must survive, got %q", got)
	}
	wrapped := "```markdown\n" + transcript + "\n```"
	if got := StripFence(wrapped); got != transcript {
		t.Fatalf("wrapper not removed cleanly, got %q", got)
	}
}

func TestDecodeJSON(t *testing.T) {
	type reply struct {
		Content string `json:"content"`
	}
	cases := map[string]string{
		`{"content":"# P\n\n` + "```" + `\nexample\n` + "```" + `\n\nMore."}`: "# P\n\n```\nexample\n```\n\nMore.",
		"```json\n{\"content\":\"x\"}\n```":                                 "x",
		`Here you go: {"content":"y"} thanks`:                               "y",
		"Sure!\n```json\n{\"content\":\"z\"}\n```\nAnything else?":          "z",
	}
	for in, want := range cases {
		var r reply
		if err := DecodeJSON(in, &r); err != nil || r.Content != want {
			t.Fatalf("DecodeJSON(%q) = %q, %v; want %q", in, r.Content, err, want)
		}
	}
	var r reply
	if err := DecodeJSON("not json", &r); err != ErrNoJSON {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestObjectSpan(t *testing.T) {
	if got := ObjectSpan(`Result: {"issues": []} done`); got != `{"issues": []}` {
		t.Fatalf("unexpected span %q", got)
	}
	if got := ObjectSpan("no braces"); got != "no braces" {
		t.Fatalf("unexpected span %q", got)
	}
}
