package postgres

import (
	"fmt"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// listQuery appends the time window, newest-first ordering and paging of
// opts to base. base must already contain a WHERE clause.
func listQuery(base, tsColumn string, args []any, opts domain.ListOpts) (string, []any) {
	q := base
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		q += fmt.Sprintf(" AND %s >= %s", tsColumn, next(*opts.Since))
	}
	if opts.Until != nil {
		q += fmt.Sprintf(" AND %s <= %s", tsColumn, next(*opts.Until))
	}
	q += fmt.Sprintf(" ORDER BY %s DESC", tsColumn)
	if opts.Limit > 0 {
		q += " LIMIT " + next(opts.Limit)
	}
	if opts.Offset > 0 {
		q += " OFFSET " + next(opts.Offset)
	}
	return q, args
}
