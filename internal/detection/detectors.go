package detection

import (
	"regexp"
	"strings"
	"unicode"
)

// Mention is one user mentioned by a message.
type Mention struct {
	UserID string
	Bot    bool
}

// DistinctMentions counts mentioned users other than the author and bots.
func DistinctMentions(authorID string, mentions []Mention) int {
	seen := map[string]bool{}
	for _, m := range mentions {
		if m.Bot || m.UserID == authorID {
			continue
		}
		seen[m.UserID] = true
	}
	return len(seen)
}

// MatchFilter returns the first configured word found in content, ignoring
// case.
func MatchFilter(content string, words []string) (string, bool) {
	lower := strings.ToLower(content)
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return w, true
		}
	}
	return "", false
}

var inviteRegex = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:discord(?:app)?\.com/invite|discord\.(?:gg|io|me|li))/([a-z0-9-]+)`)

// InviteCodes extracts invite codes in order of appearance, deduplicated.
func InviteCodes(content string) []string {
	var codes []string
	seen := map[string]bool{}
	for _, m := range inviteRegex.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			codes = append(codes, m[1])
		}
	}
	return codes
}

// allowedRune covers ASCII, whitespace, general punctuation and the code
// points emoji are built from.
func allowedRune(r rune) bool {
	switch {
	case r <= unicode.MaxASCII:
		return true
	case unicode.IsSpace(r):
		return true
	case r >= 0x2000 && r <= 0x206F: // general punctuation, includes ZWJ
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r == 0x20E3: // keycap
		return true
	case r >= 0xE0020 && r <= 0xE007F: // tag sequences in flag emoji
		return true
	case unicode.In(r, unicode.So, unicode.Sk):
		return true
	case r == 'ツ':
		return true
	}
	return false
}

// emoticons are stripped whole before the per-rune check; they borrow
// characters that are not allowed on their own.
var emoticons = strings.NewReplacer(
	"(╯°□°）╯︵ ┻━┻", "",
	"┬─┬ ノ( ゜-゜ノ)", "",
)

// NonEnglishResidue returns what remains of content after stripping allowed
// characters. Empty means the content passes.
func NonEnglishResidue(content string) string {
	var b strings.Builder
	for _, r := range emoticons.Replace(content) {
		if !allowedRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
