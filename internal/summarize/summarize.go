// Package summarize collapses older conversation turns into a single
// synthetic summary entry.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rcliao/convmem/internal/llm"
	"github.com/rcliao/convmem/internal/model"
	"github.com/rcliao/convmem/internal/tokens"
)

const (
	// DefaultKeepRecent is how many trailing messages stay verbatim.
	DefaultKeepRecent = 5

	// Instruction is the system instruction sent with every summary request.
	Instruction = "You are a summarizer."

	// SummaryPrefix leads the content of every summary entry.
	SummaryPrefix = "Summary of previous messages: "

	promptHeader = "Summarize the following conversation history into a concise paragraph:\n"
)

// Options configures a Summarizer.
type Options struct {
	Timeout time.Duration // per generation call; 0 means no extra bound
	Logger  *slog.Logger
}

// Summarizer is stateless across calls; every call re-evaluates its input.
type Summarizer struct {
	gen  llm.Generator
	opts Options
	log  *slog.Logger
}

// New creates a Summarizer. A nil generator makes Summarize a no-op.
func New(gen llm.Generator, opts Options) *Summarizer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Summarizer{gen: gen, opts: opts, log: log}
}

// NeedsSummarization reports whether the estimated size of messages exceeds maxTokens.
func NeedsSummarization(messages []model.Message, maxTokens int) bool {
	total := 0
	for _, m := range messages {
		total += tokens.Estimate(m.Content)
	}
	return total > maxTokens
}

// Summarize replaces all but the last keepRecent messages with one summary
// entry. On generation failure the input is returned unchanged.
func (s *Summarizer) Summarize(ctx context.Context, messages []model.Message, keepRecent int) []model.Message {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	if len(messages) <= keepRecent || s.gen == nil {
		return messages
	}

	split := len(messages) - keepRecent
	older, recent := messages[:split], messages[split:]

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	text, err := s.gen.GenerateText(ctx, Instruction, Prompt(older))
	if err != nil {
		s.log.Warn("summary generation failed, keeping full history",
			"older", len(older), "err", err)
		return messages
	}

	out := make([]model.Message, 0, keepRecent+1)
	out = append(out, model.SummaryEntry(SummaryPrefix+strings.TrimSpace(text), older[0].Timestamp))
	out = append(out, recent...)
	return out
}

// Prompt renders the user content of a summary request.
func Prompt(older []model.Message) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	for i, m := range older {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", m.Role, m.Content)
	}
	return sb.String()
}

// Split separates a leading summary entry from the verbatim messages and
// returns the condensation without SummaryPrefix.
func Split(messages []model.Message) (summary string, rest []model.Message) {
	if len(messages) > 0 && messages[0].Summary {
		return strings.TrimPrefix(messages[0].Content, SummaryPrefix), messages[1:]
	}
	return "", messages
}
