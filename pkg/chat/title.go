package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/orsinium-labs/stopwords"
)

// DefaultTitle is given to chats created without a title. Such chats are
// renamed from their first user message.
const DefaultTitle = "New Chat"

const (
	maxTitleWords = 6
	maxTitleLen   = 60
)

var titleStopwords = stopwords.MustGet("en")

// SuggestTitle derives a short chat title from a message.
// Stopwords are skipped unless nothing else is left.
func SuggestTitle(content string) string {
	words := strings.FieldsFunc(content, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\'' && r != '-'
	})

	picked := make([]string, 0, maxTitleWords)
	for _, w := range words {
		if titleStopwords.Contains(strings.ToLower(w)) {
			continue
		}
		picked = append(picked, w)
		if len(picked) == maxTitleWords {
			break
		}
	}
	if len(picked) == 0 {
		picked = words[:min(len(words), maxTitleWords)]
	}
	if len(picked) == 0 {
		return DefaultTitle
	}

	title := picked[0]
	for _, w := range picked[1:] {
		if utf8.RuneCountInString(title)+1+utf8.RuneCountInString(w) > maxTitleLen {
			break
		}
		title += " " + w
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		title = string([]rune(title)[:maxTitleLen])
	}

	first, size := utf8.DecodeRuneInString(title)
	return string(unicode.ToUpper(first)) + title[size:]
}

// needsTitle reports whether a chat still carries a placeholder title.
func needsTitle(title string) bool {
	title = strings.TrimSpace(title)
	return title == "" || title == DefaultTitle
}
