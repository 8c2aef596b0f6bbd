package datastore

import (
	"strconv"
	"strings"
)

// conditions accumulates WHERE clauses with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

// add appends a clause; each "?" in clause is replaced by the next placeholder.
func (c *conditions) add(clause string, args ...any) {
	for _, arg := range args {
		c.args = append(c.args, arg)
		clause = strings.Replace(clause, "?", "$"+strconv.Itoa(len(c.args)), 1)
	}
	c.clauses = append(c.clauses, clause)
}

// where renders the WHERE clause, or "" when there are no conditions.
func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// paged returns the LIMIT/OFFSET suffix and the arguments extended with them.
func (c *conditions) paged(page Page) (string, []any) {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	args := append(append([]any{}, c.args...), limit, max(page.Offset, 0))
	n := len(c.args)
	return " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2), args
}

// likePattern escapes LIKE wildcards and wraps s for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
