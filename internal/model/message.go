// Package model defines the core conversation data types.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ValidRoles are the allowed message roles.
var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleSystem:    true,
}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !ValidRoles[r] {
		return "", fmt.Errorf("invalid role %q (valid: user, assistant, system)", s)
	}
	return r, nil
}

// Message is one immutable conversational turn.
type Message struct {
	ID        string    `json:"id,omitempty" yaml:"id,omitempty"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Summary marks a synthetic entry produced by the summarizer.
	// Summary entries are never persisted.
	Summary bool `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// NewMessage builds a message, rejecting unknown roles.
func NewMessage(role Role, content string, ts time.Time) (Message, error) {
	if !ValidRoles[role] {
		return Message{}, fmt.Errorf("invalid role %q", role)
	}
	return Message{Role: role, Content: content, Timestamp: ts}, nil
}

// SummaryEntry builds the synthetic system message standing in for older turns.
func SummaryEntry(content string, ts time.Time) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: ts, Summary: true}
}

// Session is a single conversation transcript.
type Session struct {
	ID        string    `json:"session_id" yaml:"session_id"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

// ErrNoSession is returned when an operation needs an active session.
var ErrNoSession = errors.New("no active session")

// PersistenceError reports a durable write that did not complete.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
