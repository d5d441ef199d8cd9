package orange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Signature is a sender ID as the portal knows it.
type Signature struct {
	ID             string `json:"id"`
	Wording        string `json:"wording"`
	Activate       bool   `json:"activate"`
	ReasonRejected string `json:"reasonrejeted"`
}

// Activated reports whether the carrier approved the signature.
func (s Signature) Activated() bool {
	return s.Activate
}

// Rejected reports whether the carrier attached a rejection reason.
func (s Signature) Rejected() bool {
	reason := strings.TrimSpace(s.ReasonRejected)
	return reason != "" && reason != "0"
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID             json.RawMessage `json:"id"`
		Wording        json.RawMessage `json:"wording"`
		Activate       json.RawMessage `json:"activate"`
		ReasonRejected json.RawMessage `json:"reasonrejeted"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	s.ID = rawString(raw.ID)
	s.Wording = rawString(raw.Wording)
	s.Activate = rawBool(raw.Activate)
	s.ReasonRejected = rawString(raw.ReasonRejected)
	return nil
}

// Find returns the first signature whose wording equals name.
func Find(signatures []Signature, name string) (Signature, bool) {
	for _, signature := range signatures {
		if signature.Wording == name {
			return signature, true
		}
	}
	return Signature{}, false
}

// rawString renders a JSON scalar as text; null and false become "".
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return ""
	default:
		return ""
	}
}

func rawBool(raw json.RawMessage) bool {
	switch strings.ToLower(rawString(raw)) {
	case "", "0", "false", "null":
		return false
	default:
		return true
	}
}

// rawStrings accepts either a string or an array of strings.
func rawStrings(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if value := strings.TrimSpace(rawString(item)); value != "" {
				out = append(out, value)
			}
		}
		return out
	}
	if value := strings.TrimSpace(rawString(raw)); value != "" {
		return []string{value}
	}
	return nil
}

// absent reports whether a decoded response body is null, false or empty.
func absent(body []byte) bool {
	switch string(bytes.TrimSpace(body)) {
	case "", "null", "false":
		return true
	default:
		return false
	}
}
