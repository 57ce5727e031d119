package claude

import (
	"encoding/json"
	"testing"
)

func parseResponse(t *testing.T, raw string) *Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return &resp
}

func TestExtractText_PlainString(t *testing.T) {
	resp := parseResponse(t, `{"result": "hello", "cost_usd": 0.0123}`)

	if got := ExtractText(resp); got != "hello" {
		t.Errorf("ExtractText = %q, want %q", got, "hello")
	}
	if got := FormatCost(resp); got != "\n[cost: $0.0123]" {
		t.Errorf("FormatCost = %q, want %q", got, "\n[cost: $0.0123]")
	}
}

func TestExtractText_SegmentList(t *testing.T) {
	resp := parseResponse(t, `{"result": [{"type":"text","text":"a"}, {"type":"image"}, "b"]}`)

	if got := ExtractText(resp); got != "a\nb" {
		t.Errorf("ExtractText = %q, want %q", got, "a\nb")
	}
}

func TestExtractText_Error(t *testing.T) {
	resp := &Response{Err: "boom"}

	if got := ExtractText(resp); got != "Error: boom" {
		t.Errorf("ExtractText = %q, want %q", got, "Error: boom")
	}
}

func TestExtractText_MissingResult(t *testing.T) {
	resp := parseResponse(t, `{"session_id": "abc"}`)

	if got := ExtractText(resp); got != "" {
		t.Errorf("ExtractText = %q, want empty", got)
	}
}

func TestExtractText_NonStringResult(t *testing.T) {
	resp := parseResponse(t, `{"result": 42}`)

	if got := ExtractText(resp); got != "42" {
		t.Errorf("ExtractText = %q, want %q", got, "42")
	}
}

func TestFormatCost_Absent(t *testing.T) {
	resp := parseResponse(t, `{"result": "hi"}`)

	if got := FormatCost(resp); got != "" {
		t.Errorf("FormatCost = %q, want empty", got)
	}
}

func TestFormatCost_Zero(t *testing.T) {
	// An explicit zero cost is still present, so it renders.
	resp := parseResponse(t, `{"result": "hi", "cost_usd": 0}`)

	if got := FormatCost(resp); got != "\n[cost: $0.0000]" {
		t.Errorf("FormatCost = %q", got)
	}
}
