package masterdata

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var upper = cases.Upper(language.Und)

// normalizeCode trims, collapses inner whitespace to dashes and upper-cases.
func normalizeCode(code string) string {
	fields := strings.Fields(code)
	return upper.String(strings.Join(fields, "-"))
}

// normalizeName trims and collapses inner whitespace.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
