package sqlite

import (
	"strings"
)

// placeholder returns a placeholder for SQLite (uses ?)
func placeholder(int) string {
	return "?"
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// inClause renders "column IN (?, ?, ...)" starting at placeholder offset+1.
func inClause[T ~string](column string, values []T, offset int) (string, []any) {
	marks, args := make([]string, 0, len(values)), make([]any, 0, len(values))
	for i, v := range values {
		marks = append(marks, placeholder(offset+i+1))
		args = append(args, string(v))
	}
	return column + " IN (" + strings.Join(marks, ", ") + ")", args
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
