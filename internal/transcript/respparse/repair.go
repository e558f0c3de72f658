package respparse

import (
	"strings"
	"unicode/utf8"
)

type repair struct {
	name  string
	apply func(string) string
}

// repairs run in order; each is recorded in Result.FixesApplied when it
// changed the text.
var repairs = []repair{
	{"removed byte order mark", removeBOM},
	{"escaped raw line breaks in strings", escapeRawNewlines},
	{"removed control characters", removeControlChars},
	{"replaced non-breaking spaces", replaceNBSP},
	{"normalized smart quotes", normalizeSmartQuotes},
	{"removed text before JSON", trimLeadingProse},
	{"removed text after JSON", trimTrailingProse},
	{"removed comments", removeComments},
	{"converted single quotes", convertSingleQuotes},
	{"removed trailing commas", removeTrailingCommas},
}

func removeBOM(s string) string {
	return strings.ReplaceAll(s, "\uFEFF", "")
}

// escapeRawNewlines escapes literal CR, LF, and tab characters inside JSON
// strings, where they are not allowed.
func escapeRawNewlines(s string) string {
	var (
		b             strings.Builder
		inStr, escape bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inStr {
			if c == '"' {
				inStr = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case escape:
			escape = false
			b.WriteByte(c)
		case c == '\\':
			escape = true
			b.WriteByte(c)
		case c == '"':
			inStr = false
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
		case c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n', r == '\r', r == '\t':
			return r
		case r < 0x20, r == 0x7f, r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
}

var nbspReplacer = strings.NewReplacer("\u00A0", " ", "\u2007", " ", "\u202F", " ")

func replaceNBSP(s string) string {
	return nbspReplacer.Replace(s)
}

var smartQuoteReplacer = strings.NewReplacer(
	"\u201C", `"`, "\u201D", `"`, "\u201E", `"`, "\u201F", `"`,
	"\u2018", "'", "\u2019", "'", "\u201A", "'", "\u201B", "'",
)

func normalizeSmartQuotes(s string) string {
	return smartQuoteReplacer.Replace(s)
}

func trimLeadingProse(s string) string {
	if i := strings.IndexAny(s, "{["); i > 0 {
		return s[i:]
	}
	return s
}

func trimTrailingProse(s string) string {
	if i := strings.LastIndexAny(s, "}]"); i >= 0 && i < len(s)-1 {
		return s[:i+1]
	}
	return s
}

// removeComments strips // line comments and /* block */ comments outside
// strings.
func removeComments(s string) string {
	var (
		b             strings.Builder
		inStr, escape bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					i = len(s)
				} else {
					i += 2 + end + 1
				}
				continue
			}
		}
		if c == '"' {
			inStr = true
		}
		b.WriteByte(c)
	}
	return b.String()
}

// convertSingleQuotes rewrites 'single quoted' keys and values as JSON
// strings. Apostrophes inside double-quoted strings are left alone.
func convertSingleQuotes(s string) string {
	var (
		b             strings.Builder
		inStr, escape bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '"':
			inStr = true
			b.WriteByte(c)
		case '\'':
			end := closingSingleQuote(s, i+1)
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteByte('"')
			for _, r := range s[i+1 : end] {
				if r == '"' {
					b.WriteString(`\"`)
				} else {
					b.WriteRune(r)
				}
			}
			b.WriteByte('"')
			i = end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closingSingleQuote returns the index of the quote ending a single-quoted
// string that starts at from, or -1. The quote must be followed by a JSON
// delimiter so that apostrophes inside words do not end the string.
func closingSingleQuote(s string, from int) int {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '\n':
			return -1
		case '\'':
			rest := strings.TrimLeft(s[j+1:], " \t\r\n")
			if rest == "" || strings.ContainsRune(":,}]", rune(rest[0])) {
				return j
			}
		}
	}
	return -1
}

// removeTrailingCommas drops commas that directly precede a closing bracket,
// outside strings.
func removeTrailingCommas(s string) string {
	var (
		b             strings.Builder
		inStr, escape bool
	)
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			rest := strings.TrimLeft(s[i+1:], " \t\r\n")
			if rest != "" && (rest[0] == '}' || rest[0] == ']') {
				continue
			}
		}
		if c == '"' {
			inStr = true
		}
		b.WriteByte(c)
	}
	return b.String()
}
