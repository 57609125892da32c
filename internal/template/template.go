package template

import (
	"sort"
	"strings"
)

// Substitute expands $name$ tokens in tmpl using vars.
//
// Variables are applied one at a time in sorted name order, each pass
// operating on the output of the previous one. A replacement value that
// itself contains a $name$ token of a variable applied later IS expanded
// again (sequential, not simultaneous, substitution). This re-scanning
// behavior is intentional and covered by tests; callers that need literal
// dollar-delimited text in values must escape it themselves.
func Substitute(tmpl string, vars map[string]string) string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	out := tmpl
	for _, name := range names {
		out = strings.ReplaceAll(out, "$"+name+"$", vars[name])
	}
	return out
}
