// Package sqltext holds the text helpers shared by the synthesizer, the guard
// and the schema catalog: whitespace flattening, literal escaping, accent
// folding and identifier validation.
package sqltext

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	identifierRe = regexp.MustCompile(`^[A-Za-z0-9_.$]+$`)
)

// OneLine collapses every whitespace run to a single space and trims the ends.
// OneLine(OneLine(s)) == OneLine(s).
func OneLine(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// StripComments removes "--" line comments and "/* */" block comments that sit
// outside quoted literals and identifiers. A block comment becomes a single
// space, so SELECT/**/x reads as SELECT x. An unterminated comment runs to the
// end of the text.
func StripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			switch {
			case c == '\\' && i+1 < len(s):
				i++
				b.WriteByte(s[i])
			case c == quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			b.WriteByte(c)
		case c == '-' && i+1 < len(s) && s[i+1] == '-':
			end := strings.IndexByte(s[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end - 1 // keep the newline
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			b.WriteByte(' ')
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Normalize strips comments and flattens whitespace
func Normalize(s string) string {
	return OneLine(StripComments(s))
}

// EscapeLiteral doubles every single quote so the value can sit inside '...'
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QuoteLiteral escapes and wraps a value in single quotes
func QuoteLiteral(s string) string {
	return "'" + EscapeLiteral(s) + "'"
}

// LikeContains renders a quoted LIKE pattern matching s anywhere in the value
func LikeContains(s string) string {
	return QuoteLiteral("%" + s + "%")
}

// FoldAccents lowercases s and removes combining marks ("Iluminação" -> "iluminacao")
func FoldAccents(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// StripBackticks removes surrounding whitespace and backticks from an identifier
func StripBackticks(name string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "`"))
}

// ValidIdentifier reports whether name only uses letters, digits, '_', '.' and '$'
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// CleanIdentifier strips backticks and validates the result
func CleanIdentifier(name string) (string, error) {
	n := StripBackticks(name)
	if n == "" || !ValidIdentifier(n) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return n, nil
}
