package claude

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response is the parsed output of one claude invocation.
//
// With --output-format json the CLI prints a single JSON object whose
// "result" field carries the reply. Runner-level failures (timeout, bad
// exit) are represented with Err set and everything else zero, so callers
// handle every outcome through the same type.
type Response struct {
	Result    ResultValue `json:"result"`
	CostUSD   *float64    `json:"cost_usd"`
	SessionID string      `json:"session_id"`
	NumTurns  int         `json:"num_turns"`

	// Err is set for timeouts and CLI failures. Not part of the CLI's
	// own output schema.
	Err string `json:"error,omitempty"`
}

// ResultValue tolerates the shapes the CLI uses for "result": a plain
// string, a list of content segments, or anything else.
type ResultValue struct {
	raw json.RawMessage
}

// UnmarshalJSON stores the raw value for lazy interpretation.
func (v *ResultValue) UnmarshalJSON(data []byte) error {
	v.raw = append(v.raw[:0], data...)
	return nil
}

// MarshalJSON round-trips the original value.
func (v ResultValue) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte(`""`), nil
	}
	return v.raw, nil
}

// Text renders the result as reply text. Strings pass through unchanged.
// Segment lists contribute their text-typed segments and bare strings,
// joined by newlines; non-text segments are skipped. Any other value is
// stringified as-is.
func (v ResultValue) Text() string {
	if len(v.raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s
	}

	var segments []json.RawMessage
	if err := json.Unmarshal(v.raw, &segments); err == nil {
		var parts []string
		for _, seg := range segments {
			var block struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(seg, &block); err == nil && block.Type != "" {
				if block.Type == "text" {
					parts = append(parts, block.Text)
				}
				continue
			}
			var str string
			if err := json.Unmarshal(seg, &str); err == nil {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, "\n")
	}

	return strings.TrimSpace(string(v.raw))
}

// textResult wraps plain text in a ResultValue, for the non-JSON
// degradation path.
func textResult(s string) ResultValue {
	data, _ := json.Marshal(s)
	return ResultValue{raw: data}
}

// ExtractText returns the user-facing reply text for a response.
// Error responses render as "Error: <message>".
func ExtractText(resp *Response) string {
	if resp.Err != "" {
		return "Error: " + resp.Err
	}
	return resp.Result.Text()
}

// FormatCost renders the cost annotation appended to replies, or an empty
// string when the response carries no cost.
func FormatCost(resp *Response) string {
	if resp.CostUSD == nil {
		return ""
	}
	return fmt.Sprintf("\n[cost: $%.4f]", *resp.CostUSD)
}
