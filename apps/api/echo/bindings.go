package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/kazi/core"
	"github.com/trezcool/kazi/core/notes"
	"github.com/trezcool/kazi/core/task"
	"github.com/trezcool/kazi/core/user"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind parses the "ordering" query param: comma separated fields, "-" prefixed for descending order.
func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

func bindUserFilter(ctx echo.Context) (*user.QueryFilter, error) {
	params := ctx.QueryParams()
	filter := &user.QueryFilter{
		Search:      params.Get("search"),
		Roles:       params["role"],
		CreatedFrom: params.Get("created_from"),
		CreatedTo:   params.Get("created_to"),
	}
	if v := params.Get("is_active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return nil, core.NewValidationError(nil, core.FieldError{Field: "is_active", Error: "must be a boolean"})
		}
		filter.IsActive = &active
	}
	if err := filter.Clean(); err != nil {
		return nil, err
	}
	return filter, nil
}

func bindTaskFilter(ctx echo.Context) (*task.QueryFilter, error) {
	params := ctx.QueryParams()
	filter := &task.QueryFilter{
		Search:     params.Get("search"),
		Statuses:   params["status"],
		AssignedTo: params.Get("assigned_to"),
		CreatedBy:  params.Get("created_by"),
		TaskType:   params.Get("task_type"),
		DueFrom:    params.Get("due_from"),
		DueTo:      params.Get("due_to"),
	}
	if err := filter.Clean(); err != nil {
		return nil, err
	}
	return filter, nil
}

func bindNotesFilter(ctx echo.Context) notes.QueryFilter {
	return notes.QueryFilter{UploadedBy: ctx.QueryParam("uploaded_by")}
}
