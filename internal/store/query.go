package store

import (
	"database/sql"
	"strings"
	"time"
)

// listClause builds the search filter, ordering and window for a list query.
// Only columns named in sortable can be ordered on; search runs a LIKE over
// every searchable column.
func listClause(page Page, searchable []string, sortable map[string]string, defaultOrder string) (string, []any, string, []any) {
	where := ""
	var args []any
	search := strings.TrimSpace(page.Search)
	if search != "" && len(searchable) > 0 {
		parts := make([]string, 0, len(searchable))
		term := "%" + search + "%"
		for _, column := range searchable {
			parts = append(parts, column+" LIKE ?")
			args = append(args, term)
		}
		where = " AND (" + strings.Join(parts, " OR ") + ")"
	}

	order := " ORDER BY " + defaultOrder
	if column, ok := sortable[page.Column]; ok {
		direction := "ASC"
		if strings.EqualFold(page.Direction, "desc") {
			direction = "DESC"
		}
		order = " ORDER BY " + column + " " + direction
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	return where, args, order + " LIMIT ? OFFSET ?", []any{limit, offset}
}

func unixTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func nullUnix(ts sql.NullInt64) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return unixTime(ts.Int64)
}

func unixOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func clampCount(total int64) int32 {
	if total < 0 {
		return 0
	}
	if total > int64(^uint32(0)>>1) {
		return int32(^uint32(0) >> 1)
	}
	return int32(total)
}
