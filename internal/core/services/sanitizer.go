package services

import (
	"regexp"
	"strings"
)

// leakPatterns match replies that talk about the assistant's own instructions
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsystem\s+prompt\b`),
	regexp.MustCompile(`(?i)\bmy\s+(initial\s+|original\s+|hidden\s+)?instructions\s+(are|say|were)\b`),
	regexp.MustCompile(`(?i)\bi\s+was\s+(told|instructed)\s+to\b`),
	regexp.MustCompile(`(?i)\bignore\s+(all\s+)?previous\s+instructions\b`),
	regexp.MustCompile(`(?i)<\s*/?\s*(system|instructions)\s*>`),
}

// leakWindow is how many consecutive system-prompt words in a reply count as a leak
const leakWindow = 8

// SanitizeReply checks a generated reply for prompt leaks. It returns the
// reply unchanged and leaked=false when clean.
func SanitizeReply(reply, systemPrompt string) (clean string, leaked bool) {
	for _, re := range leakPatterns {
		if re.MatchString(reply) {
			return "", true
		}
	}
	if echoesPrompt(reply, systemPrompt) {
		return "", true
	}
	return strings.TrimSpace(reply), false
}

// echoesPrompt reports whether reply repeats any leakWindow-word run of the prompt
func echoesPrompt(reply, prompt string) bool {
	words := normalizeWords(prompt)
	if len(words) < leakWindow {
		return false
	}
	haystack := " " + strings.Join(normalizeWords(reply), " ") + " "
	for i := 0; i+leakWindow <= len(words); i++ {
		needle := " " + strings.Join(words[i:i+leakWindow], " ") + " "
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func normalizeWords(s string) []string {
	return strings.Fields(nonWord.ReplaceAllString(strings.ToLower(s), " "))
}
