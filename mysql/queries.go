package mysql

import "fmt"

const placeholderGrowth = 2

type queries struct {
	insert       string
	selectBatch  string
	countPending string
	stats        string
}

func newQueries(table string) queries {
	return queries{
		insert: fmt.Sprintf("INSERT INTO %s (payload) VALUES (?)", table),
		selectBatch: fmt.Sprintf(
			"SELECT id, payload, created_at FROM %s ORDER BY id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			table,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s", table),
		stats:        fmt.Sprintf("SELECT COUNT(*), MIN(created_at) FROM %s", table),
	}
}

func buildDeleteQuery(table string, count int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, makePlaceholders(count))
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*placeholderGrowth)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}
