package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const testPrompt = "You are the support assistant for Acme Widgets. Never discuss pricing for enterprise contracts and always be polite."

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantLeaked bool
		wantClean  string
	}{
		{"clean reply is trimmed", "  Our store opens at 9am.  ", false, "Our store opens at 9am."},
		{"mentions system prompt", "Sure! My System Prompt says I should help.", true, ""},
		{"recites instructions", "My original instructions are to sell widgets.", true, ""},
		{"was told to", "I was instructed to avoid that topic.", true, ""},
		{"injection echo", "OK, I will ignore all previous instructions.", true, ""},
		{"tag leak", "<system>secret</system>", true, ""},
		{"echoes the prompt", "Well, never discuss pricing for enterprise contracts, and always be polite!", true, ""},
		{"short overlap is fine", "We never discuss pricing over chat.", false, "We never discuss pricing over chat."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, leaked := SanitizeReply(tt.reply, testPrompt)
			assert.Equal(t, tt.wantLeaked, leaked)
			assert.Equal(t, tt.wantClean, clean)
		})
	}
}

// TestSanitizeReply_ShortPrompt tests that prompts shorter than the window are never matched
func TestSanitizeReply_ShortPrompt(t *testing.T) {
	clean, leaked := SanitizeReply("Be nice to customers", "Be nice to customers")
	assert.False(t, leaked)
	assert.Equal(t, "Be nice to customers", clean)
}
