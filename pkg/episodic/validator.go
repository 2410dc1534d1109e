package episodic

import (
	"regexp"
	"strings"

	"tandem/pkg/errmodel"
)

// deniedKeywords are rejected anywhere in a candidate query, word-bounded.
// The list errs toward rejection: the archive is read-only and the author can
// always rephrase.
var deniedKeywords = []string{
	"insert", "update", "delete", "replace", "merge", "upsert",
	"drop", "alter", "create", "truncate", "reindex", "vacuum",
	"attach", "detach", "pragma",
	"begin", "commit", "rollback", "savepoint",
	"grant", "revoke",
}

var keywordPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(deniedKeywords))
	for _, kw := range deniedKeywords {
		m[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return m
}()

// tableRefs captures the identifier after FROM or JOIN.
var tableRefs = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)

// ValidateQuery mechanically checks one candidate query: a single SELECT
// statement, no mutating or transactional keywords, and only the episodes
// table. Rejections name what was found so the author can correct course.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	if q == "" {
		return errmodel.Protocol("empty_query", "candidate query is empty", nil)
	}
	if strings.ContainsRune(q, ';') {
		return errmodel.Protocol("multi_statement", "candidate query contains multiple statements", nil)
	}
	if !strings.HasPrefix(strings.ToLower(q), "select") {
		return errmodel.Protocol("not_select", "candidate query does not begin with SELECT", nil)
	}
	for _, kw := range deniedKeywords {
		if keywordPatterns[kw].MatchString(q) {
			return errmodel.Protocol("denied_keyword", "candidate query contains a denied keyword",
				map[string]any{"keyword": kw})
		}
	}
	for _, m := range tableRefs.FindAllStringSubmatch(q, -1) {
		if !strings.EqualFold(m[1], TableName) {
			return errmodel.Protocol("denied_table", "candidate query references a table outside the archive",
				map[string]any{"table": m[1]})
		}
	}
	return nil
}
