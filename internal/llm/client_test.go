package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCompleteDecodesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["tool_choice"] != "auto" {
			t.Errorf("tool_choice not forwarded: %v", req["tool_choice"])
		}
		io.WriteString(w, `{"choices":[{"finish_reason":"tool_calls","message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_policy_content","arguments":"{\"policy_id\":\"b\"}"}}]}}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "secret")
	resp, err := c.Complete(context.Background(), Request{
		Model:      "gpt-4o",
		Messages:   []Message{{Role: RoleUser, Content: "hi"}},
		Tools:      []Tool{FunctionTool("get_policy_content", "", nil)},
		ToolChoice: "auto",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Function.Name != "get_policy_content" {
		t.Fatalf("unexpected tool calls %+v", resp.Message.ToolCalls)
	}
	if resp.Message.Content != "" {
		t.Fatalf("null content should decode empty, got %q", resp.Message.Content)
	}
}

func TestCompleteSurfacesRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.Header().Set("X-Ratelimit-Reset-Requests", "1m")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Complete(context.Background(), Request{Model: "m"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != "3" || rl.ResetRequests != "1m" {
		t.Fatalf("headers not captured: %+v", rl)
	}
}

func TestCompleteSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Complete(context.Background(), Request{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if IsRateLimit(err) {
		t.Fatalf("400 must not be treated as rate limit")
	}
}

func TestMessageMarshalsParts(t *testing.T) {
	msg := Message{Role: RoleUser, Parts: []ContentPart{TextPart("transcribe"), ImagePart("data:image/png;base64,AAA")}}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"content":[{"type":"text","text":"transcribe"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}}]`) {
		t.Fatalf("unexpected json %s", data)
	}
	tool, _ := json.Marshal(Message{Role: RoleTool, ToolCallID: "call_1", Content: `{"success":true}`})
	if !strings.Contains(string(tool), `"tool_call_id":"call_1"`) {
		t.Fatalf("tool message missing id: %s", tool)
	}
}
