// Package soql analyses and rewrites embedded SOQL query text.
//
// All functions are pure and never fail loudly on malformed input: each
// returns its own "no result" value (empty slice, empty string, false, or
// ok=false) when the text does not look like `SELECT <fields> FROM <object> ...`.
// Keywords are matched case-insensitively and the query may be wrapped in
// the `[ ... ]` delimiters used for inline Apex queries.
//
// Structure is recognised on a masked copy of the text in which string
// literals and everything inside parentheses are blanked out, so commas and
// keywords belonging to function calls or subqueries never affect the outer
// query.
package soql

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultDisplayLength is the default maxLength for FormatQueryForDisplay.
const DefaultDisplayLength = 200

// Ellipsis marks truncated display text.
const Ellipsis = "..."

// maskByte replaces masked bytes. It is neither whitespace, a comma, nor a
// word character, so masked regions cannot produce keyword or split matches.
const maskByte = '\x00'

var (
	reLeadingSelect = regexp.MustCompile(`(?i)^\s*\[?\s*SELECT\b\s*`)
	reSelect        = regexp.MustCompile(`(?i)\bSELECT\b`)
	reFrom          = regexp.MustCompile(`(?i)\bFROM\b`)
	reFromObject    = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)`)
	reIdentifier    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	reWhitespace    = regexp.MustCompile(`\s+`)

	reWhere   = regexp.MustCompile(`(?i)\bWHERE\b`)
	reLimit   = regexp.MustCompile(`(?i)\bLIMIT\b`)
	reOrderBy = regexp.MustCompile(`(?i)\bORDER\s+BY\b`)
	reGroupBy = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	reHaving  = regexp.MustCompile(`(?i)\bHAVING\b`)
	reOffset  = regexp.MustCompile(`(?i)\bOFFSET\b`)
	reFor     = regexp.MustCompile(`(?i)\bFOR\s+(?:UPDATE|VIEW|REFERENCE)\b`)
	reWith    = regexp.MustCompile(`(?i)\bWITH\s+(?:SECURITY_ENFORCED|USER_MODE|SYSTEM_MODE|DATA\s+CATEGORY)\b`)
)

// mask returns a copy of text with string literal contents and everything
// inside parentheses replaced by maskByte. Byte offsets are preserved. When
// keepParens is false only string literals are masked.
func mask(text string, keepParens bool) string {
	out := []byte(text)
	depth := 0
	inString := false
	for i := 0; i < len(out); i++ {
		c := text[i]
		switch {
		case inString:
			out[i] = maskByte
			if c == '\\' && i+1 < len(out) {
				i++
				out[i] = maskByte
			} else if c == '\'' {
				inString = false
			}
		case c == '\'':
			inString = true
			out[i] = maskByte
		case !keepParens:
			// string literals only
		case c == '(':
			if depth > 0 {
				out[i] = maskByte
			}
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
			if depth > 0 {
				out[i] = maskByte
			}
		default:
			if depth > 0 {
				out[i] = maskByte
			}
		}
	}
	return string(out)
}

// selectParts locates the outer field list of a query.
type selectParts struct {
	fieldsStart int // first byte of the field list
	fieldsEnd   int // end of the field list, trailing whitespace excluded
	fromIdx     int // start of the outer FROM keyword
}

// parseSelect finds the outer SELECT list and FROM keyword.
func parseSelect(text string) (selectParts, bool) {
	masked := mask(text, true)

	loc := reLeadingSelect.FindStringIndex(masked)
	if loc == nil {
		return selectParts{}, false
	}
	start := loc[1]

	from := reFrom.FindStringIndex(masked[start:])
	if from == nil {
		return selectParts{}, false
	}
	fromIdx := start + from[0]

	if reFromObject.FindStringIndex(masked[fromIdx:]) == nil {
		return selectParts{}, false
	}

	end := fromIdx
	for end > start && isSpace(text[end-1]) {
		end--
	}
	if end <= start {
		return selectParts{}, false
	}
	return selectParts{fieldsStart: start, fieldsEnd: end, fromIdx: fromIdx}, true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

// rawFields splits the outer field list on top-level commas and returns the
// trimmed, untouched field expressions.
func rawFields(text string, p selectParts) []string {
	list := text[p.fieldsStart:p.fieldsEnd]
	masked := mask(list, true)

	var fields []string
	last := 0
	for i := 0; i <= len(masked); i++ {
		if i < len(masked) && masked[i] != ',' {
			continue
		}
		if f := strings.TrimSpace(list[last:i]); f != "" {
			fields = append(fields, f)
		}
		last = i + 1
	}
	return fields
}

// normalizeField collapses whitespace and removes a trailing alias.
func normalizeField(field string) string {
	field = reWhitespace.ReplaceAllString(strings.TrimSpace(field), " ")

	tokens := topLevelTokens(field)
	if len(tokens) < 2 || strings.EqualFold(tokens[0], "TYPEOF") {
		return field
	}
	n := len(tokens)
	switch {
	case n == 3 && strings.EqualFold(tokens[1], "AS") && reIdentifier.MatchString(tokens[2]):
		return tokens[0]
	case n == 2 && reIdentifier.MatchString(tokens[1]):
		return tokens[0]
	}
	return field
}

// topLevelTokens splits on whitespace that is not inside parentheses.
func topLevelTokens(field string) []string {
	masked := mask(field, true)
	var tokens []string
	start := -1
	for i := 0; i < len(masked); i++ {
		if masked[i] == ' ' {
			if start >= 0 {
				tokens = append(tokens, field[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, field[start:])
	}
	return tokens
}

// FieldKey returns the comparison key for a field expression: alias removed,
// whitespace collapsed, lower-cased.
func FieldKey(field string) string {
	return strings.ToLower(normalizeField(field))
}

// ExtractFields returns the outer SELECT list of a query. Commas inside
// function calls or subqueries do not split the list, aliases (`AS x` or a
// bare trailing identifier) are removed and aggregate calls such as
// COUNT(Id) stay whole. Text that is not a SELECT ... FROM query yields nil.
func ExtractFields(text string) []string {
	p, ok := parseSelect(text)
	if !ok {
		return nil
	}
	raw := rawFields(text, p)
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		fields = append(fields, normalizeField(f))
	}
	return fields
}

// HasNestedQueries reports whether text contains more than one SELECT ... FROM
// pairing, i.e. a subquery.
func HasNestedQueries(text string) bool {
	masked := mask(text, false)
	pairs := 0
	for _, loc := range reSelect.FindAllStringIndex(masked, -1) {
		if reFrom.MatchString(masked[loc[1]:]) {
			pairs++
			if pairs > 1 {
				return true
			}
		}
	}
	return false
}

// RemoveUnusedFields rewrites the outer field list without the fields in
// fieldsToRemove. Every clause after FROM is copied byte for byte. When
// knownFields is non-empty a field is only removed if it is also listed
// there. Matching uses FieldKey.
//
// The empty string is returned when the query does not have the expected
// shape, contains a subquery, or would be left with no fields. An empty
// fieldsToRemove returns text unchanged.
func RemoveUnusedFields(text string, fieldsToRemove, knownFields []string) string {
	p, ok := parseSelect(text)
	if !ok {
		return ""
	}
	if len(fieldsToRemove) == 0 {
		return text
	}
	if HasNestedQueries(text) {
		return ""
	}

	remove := keySet(fieldsToRemove)
	known := keySet(knownFields)

	var kept []string
	for _, f := range rawFields(text, p) {
		key := FieldKey(f)
		_, drop := remove[key]
		if drop && len(known) > 0 {
			_, drop = known[key]
		}
		if !drop {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return ""
	}

	return text[:p.fieldsStart] + strings.Join(kept, ", ") + " " + text[p.fromIdx:]
}

func keySet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[FieldKey(f)] = struct{}{}
	}
	return set
}

// ExcludeSystemFields deletes "Id" (any case) and the COUNT() marker from
// fields and returns the same map. The argument is modified in place.
func ExcludeSystemFields(fields map[string]struct{}) map[string]struct{} {
	for f := range fields {
		key := strings.ToLower(reWhitespace.ReplaceAllString(f, ""))
		if key == "id" || key == "count()" {
			delete(fields, f)
		}
	}
	return fields
}

// IsValidSOQL reports whether SELECT and FROM both appear, in that order.
// It is a shape check, not a grammar validator.
func IsValidSOQL(text string) bool {
	loc := reSelect.FindStringIndex(text)
	if loc == nil {
		return false
	}
	return reFrom.MatchString(text[loc[1]:])
}

// ExtractObjectName returns the identifier following the first FROM keyword
// scanning left to right. For a query whose subquery precedes the outer
// FROM this is the subquery's object; strip subqueries first when the outer
// target is needed.
func ExtractObjectName(text string) (string, bool) {
	m := reFromObject.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ClauseSet records which optional clauses a query's outer level uses.
type ClauseSet struct {
	Where   bool `json:"where"`
	Limit   bool `json:"limit"`
	OrderBy bool `json:"order_by"`
	GroupBy bool `json:"group_by"`
	Having  bool `json:"having"`
	Offset  bool `json:"offset"`
	For     bool `json:"for"`  // FOR UPDATE / VIEW / REFERENCE
	With    bool `json:"with"` // WITH SECURITY_ENFORCED / USER_MODE / ...
}

// Clauses detects the outer query's clauses. Clauses inside subqueries,
// function calls or string literals are ignored. Text without a SELECT ...
// FROM shape yields the zero ClauseSet.
func Clauses(text string) ClauseSet {
	p, ok := parseSelect(text)
	if !ok {
		return ClauseSet{}
	}
	tail := mask(text, true)[p.fromIdx:]
	return ClauseSet{
		Where:   reWhere.MatchString(tail),
		Limit:   reLimit.MatchString(tail),
		OrderBy: reOrderBy.MatchString(tail),
		GroupBy: reGroupBy.MatchString(tail),
		Having:  reHaving.MatchString(tail),
		Offset:  reOffset.MatchString(tail),
		For:     reFor.MatchString(tail),
		With:    reWith.MatchString(tail),
	}
}

// HasWhereClause reports whether the outer query has a WHERE clause.
func HasWhereClause(text string) bool { return Clauses(text).Where }

// HasLimitClause reports whether the outer query has a LIMIT clause.
func HasLimitClause(text string) bool { return Clauses(text).Limit }

// FormatQueryForDisplay collapses whitespace and shortens text for display.
//
// Normalised text no longer than maxLength is returned as is. Text longer
// than 2*maxLength becomes head + "..." + tail, each maxLength runes long.
// Anything in between is cut to maxLength-3 runes plus "...". When maxLength
// is smaller than the ellipsis the ellipsis alone is returned, which is
// longer than the requested bound. Lengths count runes.
func FormatQueryForDisplay(text string, maxLength int) string {
	normalized := strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
	n := utf8.RuneCountInString(normalized)
	if n <= maxLength {
		return normalized
	}
	if maxLength < len(Ellipsis) {
		return Ellipsis
	}

	runes := []rune(normalized)
	if n > 2*maxLength {
		return string(runes[:maxLength]) + Ellipsis + string(runes[n-maxLength:])
	}
	return string(runes[:maxLength-len(Ellipsis)]) + Ellipsis
}
