package respparse

import (
	"fmt"
	"strings"
)

const previewRunes = 500

// Diagnostic renders a correction prompt for a response that failed to parse.
// It names the parse error, shows a truncated preview of the response, and
// lists the formatting rules the model should follow on its next attempt.
func Diagnostic(res Result, raw string) string {
	var b strings.Builder
	b.WriteString("Your previous response could not be parsed as JSON.\n")
	if res.Err != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.Err)
	}
	if len(res.FixesApplied) > 0 {
		fmt.Fprintf(&b, "Automatic fixes attempted: %s\n", strings.Join(res.FixesApplied, ", "))
	}
	fmt.Fprintf(&b, "\nResponse preview (first %d characters):\n%s\n", previewRunes, Preview(raw, previewRunes))
	b.WriteString(`
Reply again with the same content, making sure that:
1. The response contains only valid JSON.
2. There is no text before or after the JSON.
3. All keys and string values use double quotes.
4. There are no trailing commas.
5. Quotes inside string values are escaped.
6. There are no comments.`)
	return b.String()
}

// Preview returns at most n runes of s, marking truncation with "...".
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
