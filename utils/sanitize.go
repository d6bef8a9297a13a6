package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Group chat is plain text, so every tag is stripped.
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup and surrounding whitespace. The policy escapes what it keeps,
// so the result is unescaped back to plain text; clients escape on render.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(input)))
}
