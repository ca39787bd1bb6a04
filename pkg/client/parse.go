// Package client holds the answer parsing shared by the vision model
// clients.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/nailscan/pkg/types"
)

// ErrNoJSON is returned when a model answer contains no JSON object.
var ErrNoJSON = errors.New("model response contains no JSON object")

// ParseHandDetection decodes the JSON answer of a vision model.
func ParseHandDetection(raw string) (*types.HandDetection, error) {
	raw = SanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return nil, ErrNoJSON
	}

	var result types.HandDetection
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return &result, nil
}

// SanitizeModelJSON cuts the first JSON object out of a chatty answer and
// strips the comments and trailing commas models like to add.
func SanitizeModelJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return strings.TrimSpace(raw)
	}

	var (
		out     strings.Builder
		depth   int
		inStr   bool
		escaped bool
	)
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inStr {
			out.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inStr = false
			}
			continue
		}

		switch {
		case ch == '"':
			inStr = true
		case strings.HasPrefix(raw[i:], "//"):
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			continue
		case strings.HasPrefix(raw[i:], "/*"):
			end := strings.Index(raw[i+2:], "*/")
			if end < 0 {
				i = len(raw)
			} else {
				i += end + 3
			}
			continue
		case ch == '{' || ch == '[':
			depth++
		case ch == '}' || ch == ']':
			dropTrailingComma(&out)
			depth--
		}
		out.WriteByte(ch)
		if depth == 0 {
			break
		}
	}
	return strings.TrimSpace(out.String())
}

// dropTrailingComma removes a comma left before a closing bracket.
func dropTrailingComma(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
		b.Reset()
		b.WriteString(s)
	}
}
