package quizmatch

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

const promptHeader = "Based on the following quiz answers, suggest a single hobby that would best suit the user. " +
	"Your answer should only be the name of the hobby, e.g., 'Gardening' or 'Photography', and nothing else. " +
	"Do not include any introductory or concluding remarks, just the hobby name.\n\nQuestions and Answers:\n"

// BuildPrompt pairs every question with the answer at the same position.
func BuildPrompt(answers []string) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	for i, q := range Questions {
		sb.WriteString("Q: ")
		sb.WriteString(q.Text)
		sb.WriteString("\nA: ")
		if i < len(answers) {
			sb.WriteString(answers[i])
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

var (
	labelPrefix   = regexp.MustCompile(`(?i)^(suggested\s+hobby|hobby)\s*:\s*`)
	andSeparator  = regexp.MustCompile(`(?i)\s+and\s+`)
	trailingPunct = regexp.MustCompile(`[.;:!]+$`)
)

// maxHobbyLength is measured in UTF-16 code units, so characters outside
// the Basic Multilingual Plane count twice.
const maxHobbyLength = 60

// SanitizeHobby reduces a model reply to a bare hobby name. ok is false
// when nothing usable is left.
func SanitizeHobby(raw string) (hobby string, ok bool) {
	var line string
	for _, l := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(l) != "" {
			line = strings.TrimSpace(l)
			break
		}
	}
	if line == "" {
		return "", false
	}

	s := strings.TrimSpace(strings.Trim(line, "`'\" \t"))
	s = labelPrefix.ReplaceAllString(s, "")

	if i := strings.Index(s, ","); i >= 0 {
		s = strings.TrimSpace(s[:i])
	} else if loc := andSeparator.FindStringIndex(s); loc != nil {
		s = strings.TrimSpace(s[:loc[0]])
	}

	s = strings.TrimSpace(trailingPunct.ReplaceAllString(s, ""))
	if n := utf16Len(s); n < 1 || n > maxHobbyLength {
		return "", false
	}
	return s, true
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
