// Package xmlutil escapes text for safe embedding inside XML-delimited
// prompt sections. Note titles and bodies are untrusted input: a body
// containing a literal closing tag must not be able to break out of the
// section that wraps it.
package xmlutil

import (
	"encoding/xml"
	"strings"
)

// Escape rewrites XML metacharacters in s so the result reads as plain
// character data between tags. Invalid UTF-8 cannot be escaped and is
// returned unchanged.
func Escape(s string) string {
	var buf strings.Builder
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
