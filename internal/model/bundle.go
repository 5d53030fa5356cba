package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ContextBundle is the assembled context handed to a downstream generator.
// It is built fresh for every query and never persisted.
type ContextBundle struct {
	UserProfile    map[string]any `json:"user_profile" yaml:"user_profile"`
	Summary        string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	RecentMessages []Message      `json:"recent_messages" yaml:"recent_messages"`
	RelevantPast   []string       `json:"relevant_past" yaml:"relevant_past"`
	Tokens         int            `json:"tokens" yaml:"tokens"`
	Budget         int            `json:"budget" yaml:"budget"`
}

// Render formats the bundle as a prompt context block.
func (b *ContextBundle) Render(query string) string {
	var sb strings.Builder

	if len(b.UserProfile) > 0 {
		sb.WriteString("User profile:\n")
		keys := make([]string, 0, len(b.UserProfile))
		for k := range b.UserProfile {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, renderValue(b.UserProfile[k]))
		}
	}
	if b.Summary != "" {
		fmt.Fprintf(&sb, "User summary: %s\n", b.Summary)
	}
	if len(b.RecentMessages) > 0 {
		sb.WriteString("Recent history:\n")
		for _, m := range b.RecentMessages {
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	if len(b.RelevantPast) > 0 {
		sb.WriteString("Relevant memory:\n")
		for _, p := range b.RelevantPast {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if query != "" {
		fmt.Fprintf(&sb, "User said: %s\n", query)
	}
	return sb.String()
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
