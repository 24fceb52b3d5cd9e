package request

import "strings"

// StatusTabAll bypasses status filtering in Filter.
const StatusTabAll = "all"

// Filter narrows groups by free-text term and status tab. The term matches
// case-insensitively against the subject display name and card number; an
// empty term matches everything. statusTab is either StatusTabAll or an
// exact derived status. Pure: the input slice is never mutated and relative
// order is preserved.
func Filter(groups []*Group, term, statusTab string) []*Group {
	term = strings.ToLower(strings.TrimSpace(term))

	out := make([]*Group, 0, len(groups))
	for _, g := range groups {
		if term != "" &&
			!strings.Contains(strings.ToLower(g.SubjectName), term) &&
			!strings.Contains(strings.ToLower(g.SubjectID), term) {
			continue
		}
		if statusTab != "" && statusTab != StatusTabAll && string(g.Status()) != statusTab {
			continue
		}
		out = append(out, g)
	}
	return out
}
