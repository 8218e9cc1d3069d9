// Package guard implements the static, text-level safety policy applied to
// every query before it may reach the warehouse. It does no I/O.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/v1nybarreto/genai-agent/internal/sqltext"
	"github.com/v1nybarreto/genai-agent/pkg/models"
)

// Rejection reasons. Callers and tests match on these strings.
const (
	ReasonEmpty            = "empty query text"
	ReasonMultiStatement   = "only read-only statements are permitted: multiple statements are blocked"
	ReasonForbiddenKeyword = "only read-only statements are permitted: write/administrative keyword %s is blocked"
	ReasonNotSelect        = "only read-only statements are permitted: query must start with SELECT or WITH"
	ReasonWildcard         = "wildcard projection is blocked: list columns explicitly"
)

var (
	forbiddenRe = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|TRUNCATE|CREATE|DROP|ALTER|GRANT|REVOKE|BEGIN|COMMIT|ROLLBACK|CALL|EXECUTE\s+IMMEDIATE|EXPORT|LOAD)\b`)
	readOnlyRe  = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)

	// SELECT *, SELECT DISTINCT *, SELECT t.*
	selectStarRe = regexp.MustCompile(`(?i)\bSELECT\s+(?:(?:ALL|DISTINCT)\s+)?(?:[A-Za-z_][A-Za-z0-9_]*\s*\.\s*)?\*`)
	// a, *  /  a, t.* inside a projection list
	listStarRe = regexp.MustCompile(`(?i),\s*(?:[A-Za-z_][A-Za-z0-9_]*\s*\.\s*)?\*\s*(?:,|\bFROM\b|\bEXCEPT\b|\bREPLACE\b|$)`)
)

// Check applies the read-only policy to query text. Rules run in a fixed
// order and the first failing rule decides the reason.
func Check(text string) models.SafetyVerdict {
	if strings.TrimSpace(text) == "" {
		return models.Reject(ReasonEmpty)
	}

	stripped := sqltext.Normalize(text)
	if stripped == "" {
		return models.Reject(ReasonEmpty)
	}

	// Any separator counts, even a trailing one, one inside a literal or one
	// inside a comment.
	if strings.Contains(text, ";") {
		return models.Reject(ReasonMultiStatement)
	}

	// Keywords and wildcards are matched on the comment-free text and on the
	// raw text, so a literal that fools the comment scanner cannot hide them.
	raw := sqltext.OneLine(text)
	for _, s := range []string{stripped, raw} {
		if m := forbiddenRe.FindString(s); m != "" {
			return models.Reject(fmt.Sprintf(ReasonForbiddenKeyword, strings.ToUpper(sqltext.OneLine(m))))
		}
	}

	if !readOnlyRe.MatchString(stripped) {
		return models.Reject(ReasonNotSelect)
	}

	if HasWildcardProjection(text) {
		return models.Reject(ReasonWildcard)
	}

	return models.Allow()
}

// HasWildcardProjection reports whether text projects all columns, including
// a WITH ... SELECT * tail
func HasWildcardProjection(text string) bool {
	for _, s := range []string{sqltext.Normalize(text), sqltext.OneLine(text)} {
		if selectStarRe.MatchString(s) || listStarRe.MatchString(s) {
			return true
		}
	}
	return false
}
