package repository

import (
	"strconv"
	"strings"

	"github.com/xenking/storefront-discounts/internal/domain/paging"
)

// where accumulates SQL predicates with positional arguments. Conditions use
// '?' for each argument; they are rewritten to $n as they are added.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page appends ORDER BY and LIMIT/OFFSET for a normalised request. The sort
// column must already be validated against an allow-list.
func (w *where) page(r paging.Request) string {
	dir := " ASC"
	if r.SortOrder == paging.Desc {
		dir = " DESC"
	}
	w.args = append(w.args, r.Limit, r.Offset())
	n := len(w.args)
	return " ORDER BY " + r.SortBy + dir + ", id" + dir +
		" LIMIT $" + strconv.Itoa(n-1) + " OFFSET $" + strconv.Itoa(n)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching s anywhere.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
