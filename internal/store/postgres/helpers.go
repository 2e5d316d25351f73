package postgres

import "strings"

// prefixCols qualifies each column in a comma-separated select list with a
// table alias, so the shared column constants work in joined queries.
func prefixCols(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// prefixOrder qualifies each column reference in an ORDER BY clause with a
// table alias.
func prefixOrder(alias, order string) string {
	parts := strings.Split(order, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
