package speech

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	scriptURLPattern          = regexp.MustCompile(`https?://\S+`)
	scriptFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	scriptInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	scriptMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// abbreviations that end with a period but do not end a sentence.
var abbreviations = map[string]struct{}{
	"dr":   {},
	"mr":   {},
	"mrs":  {},
	"ms":   {},
	"prof": {},
	"st":   {},
	"vs":   {},
	"etc":  {},
	"e.g":  {},
	"i.e":  {},
	"fig":  {},
	"eq":   {},
	"no":   {},
	"al":   {},
	"cf":   {},
	"approx": {},
}

// SanitizeScript strips markup and symbol noise from generated narration so
// the voice engine receives plain spoken prose.
func SanitizeScript(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = scriptFencedCodePattern.ReplaceAllString(raw, " ")
	raw = scriptInlineCodePattern.ReplaceAllString(raw, " ")
	raw = scriptMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = scriptURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"#", " ",
		"~", " ",
		"|", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case r == '\n' || r == '\r' || r == '\t' || unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sk):
			// Emoji and symbol glyphs sound unnatural when spoken.
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

// SplitSentences splits narration on sentence-ending punctuation. Periods
// inside decimal numbers and after common abbreviations do not split. The
// boundary decisions here are deliberately simple; anything smarter belongs
// behind the same signature.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var out []string
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Swallow a run of terminators ("?!", "...") as one boundary.
		end := i
		for end+1 < len(runes) && (runes[end+1] == '.' || runes[end+1] == '!' || runes[end+1] == '?') {
			end++
		}
		// Trailing close-quote or paren stays with the sentence.
		for end+1 < len(runes) && (runes[end+1] == '"' || runes[end+1] == '\'' || runes[end+1] == ')') {
			end++
		}

		atEOT := end+1 >= len(runes)
		if !atEOT && !unicode.IsSpace(runes[end+1]) {
			// Mid-token period, e.g. a decimal like 3.14 or a version number.
			i = end
			continue
		}

		if r == '.' && end == i && isAbbreviationBefore(runes, i) {
			continue
		}

		sentence := strings.TrimSpace(string(runes[start : end+1]))
		if sentence != "" {
			out = append(out, sentence)
		}
		i = end
		start = end + 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}

// isAbbreviationBefore reports whether the token ending at the period at
// idx is a known abbreviation.
func isAbbreviationBefore(runes []rune, idx int) bool {
	j := idx - 1
	for j >= 0 && (unicode.IsLetter(runes[j]) || runes[j] == '.') {
		j--
	}
	token := strings.ToLower(strings.TrimSuffix(string(runes[j+1:idx]), "."))
	token = strings.TrimPrefix(token, ".")
	if token == "" {
		return false
	}
	_, ok := abbreviations[token]
	return ok
}
