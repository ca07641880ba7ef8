package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// placeholder returns a numbered PostgreSQL placeholder ($n).
func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// placeholders returns $1..$n.
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// inClause renders "column IN ($k, ...)" starting at placeholder offset+1.
func inClause[T ~string](column string, values []T, offset int) (string, []any) {
	marks, args := make([]string, 0, len(values)), make([]any, 0, len(values))
	for i, v := range values {
		marks = append(marks, placeholder(offset+i+1))
		args = append(args, string(v))
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
