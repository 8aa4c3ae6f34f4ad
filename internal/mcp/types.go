// Package mcp implements SPEC_FULL.md §4.7: MCP tool discovery, tag
// indexing, access-control resolution, and execution-time re-checks. The
// underlying session transport lives in internal/mcp/client, grounded on
// the teacher's internal/mcpclient.
package mcp

import (
	"regexp"
	"strings"
)

// ServerStatus is the runtime health of one configured MCP server.
type ServerStatus string

const (
	StatusOnline   ServerStatus = "online"
	StatusOffline  ServerStatus = "offline"
	StatusDegraded ServerStatus = "degraded"
)

// ToolDescriptor is one indexed MCP tool, per SPEC_FULL.md §3.
type ToolDescriptor struct {
	ID            string
	ServerID      string
	Name          string
	Description   string
	InputSchema   map[string]any
	Tags          []string
	SchemaInvalid bool
}

// NewToolDescriptor builds a descriptor and derives its tags from name.
func NewToolDescriptor(serverID, name, description string, schema map[string]any) ToolDescriptor {
	return ToolDescriptor{
		ID:          serverID + "." + name,
		ServerID:    serverID,
		Name:        name,
		Description: description,
		InputSchema: schema,
		Tags:        GenerateTags(name),
	}
}

// Server is the runtime state of one configured MCP server.
type Server struct {
	ID      string
	Name    string
	Enabled bool
	Tools   []ToolDescriptor
	Status  ServerStatus
}

var (
	camelBoundaryRe = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	wordSplitRe     = regexp.MustCompile(`[_\-\s]+`)
)

// GenerateTags derives search tags for a tool name: word split across
// snake/camel/kebab case, abbreviations (first letter of each word),
// vowel-removed forms, naive plurals, and the compound first-letter form.
// The literal tool name is never included.
func GenerateTags(name string) []string {
	words := splitWords(name)
	seen := map[string]struct{}{strings.ToLower(name): {}}
	var tags []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		tags = append(tags, s)
	}

	for _, w := range words {
		add(w)
		add(vowelRemoved(w))
		add(pluralize(w))
	}
	if len(words) > 1 {
		var abbrev strings.Builder
		for _, w := range words {
			if w != "" {
				abbrev.WriteByte(w[0])
			}
		}
		add(abbrev.String())
	}
	return tags
}

func splitWords(name string) []string {
	spaced := camelBoundaryRe.ReplaceAllString(name, "$1 $2")
	spaced = wordSplitRe.ReplaceAllString(spaced, " ")
	fields := strings.Fields(spaced)
	words := make([]string, 0, len(fields))
	for _, w := range fields {
		words = append(words, strings.ToLower(w))
	}
	return words
}

func vowelRemoved(w string) string {
	var b strings.Builder
	for _, r := range w {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			continue
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == w || out == "" {
		return ""
	}
	return out
}

func pluralize(w string) string {
	if w == "" || strings.HasSuffix(w, "s") {
		return ""
	}
	if strings.HasSuffix(w, "y") && len(w) > 1 && !isVowel(rune(w[len(w)-2])) {
		return w[:len(w)-1] + "ies"
	}
	return w + "s"
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
