// Package mention turns Teams message HTML into a bot command word.
package mention

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// spaceElements separate words when Teams wraps message text in markup.
var spaceElements = map[string]bool{
	"p": true, "div": true, "br": true, "span": true, "li": true,
}

// StripMentions removes <at>...</at> mentions and any other markup from a
// Teams message, returning the remaining text with collapsed whitespace.
func StripMentions(text string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(text))

	var b strings.Builder
	atDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			name := string(tn)
			if name == "at" {
				atDepth++
			}
			if spaceElements[name] {
				b.WriteByte(' ')
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			name := string(tn)
			if name == "at" && atDepth > 0 {
				atDepth--
				b.WriteByte(' ')
			}
			if spaceElements[name] {
				b.WriteByte(' ')
			}

		case html.SelfClosingTagToken:
			b.WriteByte(' ')

		case html.TextToken:
			if atDepth > 0 {
				continue
			}
			b.Write(tokenizer.Text())
		}
	}
}

// Command normalises a message into a lower-case command word sequence:
// mentions and markup are dropped, any plain-text occurrence of a bot name is
// removed and a single leading slash is trimmed.
func Command(text string, botNames ...string) string {
	cleaned := norm.NFKC.String(StripMentions(text))

	for _, name := range botNames {
		if name == "" {
			continue
		}
		cleaned = removeFold(cleaned, name)
	}

	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "/")
	return strings.ToLower(strings.Join(strings.Fields(cleaned), " "))
}

// removeFold replaces every case-insensitive occurrence of needle with a
// space. Matching walks s rune by rune so offsets always refer to s itself.
func removeFold(s, needle string) string {
	n := utf8.RuneCountInString(needle)
	if n == 0 {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); {
		if end := runeOffset(s[i:], n); end > 0 && strings.EqualFold(s[i:i+end], needle) {
			b.WriteByte(' ')
			i += end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// runeOffset returns the byte length of the first n runes of s, or -1 when s
// holds fewer than n runes.
func runeOffset(s string, n int) int {
	offset := 0
	for ; n > 0; n-- {
		if offset >= len(s) {
			return -1
		}
		_, size := utf8.DecodeRuneInString(s[offset:])
		offset += size
	}
	return offset
}
