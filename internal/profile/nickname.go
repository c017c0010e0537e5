package profile

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode"
)

// MaxNicknameLen caps stored nicknames.
const MaxNicknameLen = 20

var (
	nickAdjectives = []string{"Cool", "Smart", "Happy", "Funny", "Brave", "Kind", "Wise", "Gentle"}
	nickNouns      = []string{"Tiger", "Eagle", "Dolphin", "Phoenix", "Wolf", "Lion", "Dragon", "Bear"}
)

// CleanNickname normalises a user-supplied nickname: strips the @ prefix,
// drops everything except letters, digits, spaces and underscores, collapses
// whitespace, title-cases each word, and caps the length. An empty result
// falls back to "User".
func CleanNickname(nickname string) string {
	nickname = strings.ReplaceAll(nickname, "@", "")

	var b strings.Builder
	for _, r := range nickname {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		words[i] = titleWord(w)
	}
	cleaned := strings.Join(words, " ")

	if cleaned == "" {
		return "User"
	}
	if len(cleaned) > MaxNicknameLen {
		runes := []rune(cleaned)
		if len(runes) > MaxNicknameLen {
			cleaned = string(runes[:MaxNicknameLen])
		}
	}
	return cleaned
}

// NicknameFrom derives a nickname from a display-name hint, generating a
// random AdjectiveNounNN nickname when the hint is empty or unusable.
func NicknameFrom(hint string) string {
	if strings.TrimSpace(hint) != "" {
		if n := CleanNickname(hint); n != "User" {
			return n
		}
	}
	adj := nickAdjectives[rand.Intn(len(nickAdjectives))]
	noun := nickNouns[rand.Intn(len(nickNouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, 10+rand.Intn(90))
}

// titleWord upper-cases the first rune and lower-cases the rest.
func titleWord(w string) string {
	runes := []rune(w)
	runes[0] = unicode.ToUpper(runes[0])
	for i := 1; i < len(runes); i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
