// Package ingest turns conversation transcripts into candidate observations.
package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Turn is one message of a conversation.
type Turn struct {
	Role string // "user", "assistant", "system"
	Text string
}

// line is a JSONL transcript record. Both the nested form
// {"type":"user","message":{"role":"user","content":...}} and the flat form
// {"role":"user","content":...} are accepted.
type line struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentBlock is a single block of a multi-part message.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var injectedTagRe = regexp.MustCompile(`<system-reminder>[\s\S]*?</system-reminder>`)

// ParseFile reads a JSONL transcript.
func ParseFile(path string) ([]Turn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads JSONL turns from r. Malformed lines are skipped.
func Parse(r io.Reader) ([]Turn, error) {
	var turns []Turn
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if t, ok := parseLine(raw); ok {
			turns = append(turns, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return turns, nil
}

func parseLine(raw []byte) (Turn, bool) {
	var l line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Turn{}, false
	}

	role, content := l.Role, l.Content
	if l.Message != nil {
		role, content = l.Message.Role, l.Message.Content
	}
	if role == "" {
		role = l.Type
	}
	if role == "" || content == nil {
		return Turn{}, false
	}

	text := strings.TrimSpace(injectedTagRe.ReplaceAllString(extractText(content), ""))
	if len(text) < 5 || strings.HasPrefix(text, "{") {
		return Turn{}, false
	}
	return Turn{Role: role, Text: text}, true
}

// extractText handles the polymorphic content field: a plain string or an
// array of blocks, of which only text blocks are kept.
func extractText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}
