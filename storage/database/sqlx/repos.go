package sqlxrepos

import (
	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/trezcool/mahudhurio/core"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const uniqueViolation = "23505" // pq error code

// violatesUnique reports whether err is a unique violation on the constraint.
func violatesUnique(err error, constraint string) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}

func orderClauses(ordering []core.DBOrdering) []string {
	clauses := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		clauses = append(clauses, ord.String())
	}
	return clauses
}
