package scrub

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ternarybob/arbor"
)

// pattern pairs a secret kind with its detection regex
type pattern struct {
	kind string
	re   *regexp.Regexp
}

// catalogue is the fixed set of recognised secret shapes. Placeholders are
// excluded by construction: no pattern matches "[REDACTED:...]", which is
// what makes scrubbing idempotent.
var catalogue = []pattern{
	{"aws-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"google-key", regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},
	{"anthropic-key", regexp.MustCompile(`\bsk-ant-[0-9A-Za-z_\-]{20,}\b`)},
	{"openai-key", regexp.MustCompile(`\bsk-[0-9A-Za-z]{32,}\b`)},
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[0-9A-Za-z]{36,}\b`)},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[0-9A-Za-z\-]{10,}\b`)},
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[0-9A-Za-z_\-.~+/]{16,}=*`)},
	{"private-key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
	{"email", regexp.MustCompile(`\b[0-9A-Za-z._%+\-]+@[0-9A-Za-z.\-]+\.[A-Za-z]{2,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit-card", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
}

// Scrubber removes sensitive values from arbitrary JSON trees and plain
// strings, replacing each match with a stable placeholder. Keys are
// preserved; only values are rewritten. Idempotent by construction.
type Scrubber struct {
	logger arbor.ILogger
}

// NewScrubber creates a scrubber with the built-in pattern catalogue
func NewScrubber(logger arbor.ILogger) *Scrubber {
	return &Scrubber{logger: logger}
}

// ScrubString replaces every catalogue match in s with its placeholder
func (s *Scrubber) ScrubString(value string) string {
	for _, p := range catalogue {
		value = p.re.ReplaceAllString(value, placeholder(p.kind))
	}
	return value
}

// ScrubJSON scrubs a raw JSON document, preserving its structure. The
// input is repaired upstream, so a decode failure here is surfaced as-is.
func (s *Scrubber) ScrubJSON(data []byte) ([]byte, error) {
	var root interface{}
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("scrub: input is not valid JSON: %w", err)
	}
	scrubbed := s.ScrubValue(root)
	return json.Marshal(scrubbed)
}

// ScrubValue walks a decoded JSON tree with an explicit stack, rewriting
// every string leaf. The explicit stack keeps adversarially deep inputs
// from exhausting the goroutine stack.
func (s *Scrubber) ScrubValue(root interface{}) interface{} {
	switch typed := root.(type) {
	case string:
		return s.ScrubString(typed)
	case map[string]interface{}, []interface{}:
		// Fall through to the iterative walk below
	default:
		return root
	}

	type frame struct {
		container interface{}
	}
	stack := []frame{{container: root}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch container := current.container.(type) {
		case map[string]interface{}:
			for key, value := range container {
				switch v := value.(type) {
				case string:
					container[key] = s.ScrubString(v)
				case map[string]interface{}:
					stack = append(stack, frame{container: v})
				case []interface{}:
					stack = append(stack, frame{container: v})
				}
			}
		case []interface{}:
			for i, value := range container {
				switch v := value.(type) {
				case string:
					container[i] = s.ScrubString(v)
				case map[string]interface{}:
					stack = append(stack, frame{container: v})
				case []interface{}:
					stack = append(stack, frame{container: v})
				}
			}
		}
	}
	return root
}

func placeholder(kind string) string {
	return "[REDACTED:" + kind + "]"
}
