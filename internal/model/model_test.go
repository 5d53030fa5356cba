package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "assistant", "system"} {
		r, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, Role(s), r)
	}
	_, err := ParseRole("tool")
	assert.Error(t, err)
}

func TestNewMessageRejectsUnknownRole(t *testing.T) {
	_, err := NewMessage("narrator", "hi", time.Now())
	assert.Error(t, err)

	m, err := NewMessage(RoleUser, "hi", time.Unix(10, 0))
	require.NoError(t, err)
	assert.False(t, m.Summary)
	assert.Empty(t, m.ID)
}

func TestSummaryEntry(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := SummaryEntry("they met", ts)
	assert.Equal(t, RoleSystem, m.Role)
	assert.True(t, m.Summary)
	assert.Equal(t, ts, m.Timestamp)
}

func TestPersistenceErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	var err error = &PersistenceError{Op: "append message", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persist append message: disk full", err.Error())
}

func TestRender(t *testing.T) {
	b := &ContextBundle{
		UserProfile: map[string]any{"name": "Alex", "age": float64(30), "likes": []any{"tea"}},
		Summary:     "They planned a trip.",
		RecentMessages: []Message{
			{Role: RoleUser, Content: "book a hotel"},
			{Role: RoleAssistant, Content: "which city?"},
		},
		RelevantPast: []string{"I prefer window seats"},
	}

	want := "User profile:\n" +
		"- age: 30\n" +
		"- likes: [\"tea\"]\n" +
		"- name: Alex\n" +
		"User summary: They planned a trip.\n" +
		"Recent history:\n" +
		"user: book a hotel\n" +
		"assistant: which city?\n" +
		"Relevant memory:\n" +
		"- I prefer window seats\n" +
		"User said: Lisbon\n"
	assert.Equal(t, want, b.Render("Lisbon"))
}

func TestRenderEmpty(t *testing.T) {
	b := &ContextBundle{}
	assert.Equal(t, "", b.Render(""))
	assert.Equal(t, "User said: hi\n", b.Render("hi"))
}
