package core

import "strings"

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// SafeOrderings keeps the orderings whose field is in `allowed` (API field -> column).
// Unknown fields are dropped so raw user input never reaches an ORDER BY clause.
func SafeOrderings(ordering []DBOrdering, allowed map[string]string) []DBOrdering {
	safe := make([]DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := allowed[strings.ToLower(ord.Field)]; ok {
			safe = append(safe, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return safe
}
