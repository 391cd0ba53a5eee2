package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/balkashynov/wrokhub/internal/errs"
	"github.com/balkashynov/wrokhub/internal/models"
	"github.com/balkashynov/wrokhub/internal/parser"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 10000
)

// TaskPatch is a validated partial task update. Status is not patchable;
// it changes only through Transition.
type TaskPatch struct {
	Title        *string
	Description  *string
	Priority     *models.Priority
	DueDate      *time.Time
	ClearDueDate bool
}

// ParsePatch validates a decoded JSON patch against the task field
// constraints. Every problem is reported in one ValidationError.
func ParsePatch(raw map[string]any, now time.Time) (TaskPatch, error) {
	var p TaskPatch
	bad := map[string]string{}
	if len(raw) == 0 {
		return p, errs.Validation(map[string]string{"patch": "no fields to update"})
	}

	for key, v := range raw {
		switch key {
		case "title":
			s, ok := v.(string)
			s = strings.TrimSpace(s)
			switch {
			case !ok || s == "":
				bad[key] = "must be a non-empty string"
			case utf8.RuneCountInString(s) > maxTitleLen:
				bad[key] = fmt.Sprintf("must be at most %d characters", maxTitleLen)
			default:
				p.Title = &s
			}
		case "description":
			s, ok := v.(string)
			switch {
			case !ok:
				bad[key] = "must be a string"
			case utf8.RuneCountInString(s) > maxDescriptionLen:
				bad[key] = fmt.Sprintf("must be at most %d characters", maxDescriptionLen)
			default:
				p.Description = &s
			}
		case "priority":
			s, _ := v.(string)
			pr := models.Priority(strings.ToLower(strings.TrimSpace(s)))
			if !pr.Valid() {
				bad[key] = "must be one of low, normal, high, urgent"
			} else {
				p.Priority = &pr
			}
		case "due_date":
			if v == nil {
				p.ClearDueDate = true
				continue
			}
			s, ok := v.(string)
			if !ok {
				bad[key] = "must be a date string or null"
				continue
			}
			due, err := parser.ParseDueDate(s, now)
			if err != nil {
				bad[key] = err.Error()
			} else if due == nil {
				p.ClearDueDate = true
			} else {
				p.DueDate = due
			}
		case "status":
			bad[key] = "status changes go through the status transition"
		default:
			bad[key] = "unknown field"
		}
	}
	if len(bad) > 0 {
		return TaskPatch{}, errs.Validation(bad)
	}
	return p, nil
}

// Fields returns the names of the patched fields in sorted order.
func (p TaskPatch) Fields() []string {
	var out []string
	for name := range p.columns() {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (p TaskPatch) columns() map[string]any {
	cols := map[string]any{}
	if p.Title != nil {
		cols["title"] = *p.Title
	}
	if p.Description != nil {
		cols["description"] = *p.Description
	}
	if p.Priority != nil {
		cols["priority"] = *p.Priority
	}
	if p.DueDate != nil {
		cols["due_date"] = *p.DueDate
	}
	if p.ClearDueDate {
		cols["due_date"] = nil
	}
	return cols
}

// apply mirrors the patch onto an in-memory task.
func (p TaskPatch) apply(t *models.Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.ClearDueDate {
		t.DueDate = nil
	}
}

// changes renders the patched values for audit details.
func (p TaskPatch) changes() map[string]any {
	out := map[string]any{}
	for k, v := range p.columns() {
		if t, ok := v.(time.Time); ok {
			v = t.Format(time.RFC3339)
		}
		if pr, ok := v.(models.Priority); ok {
			v = string(pr)
		}
		out[k] = v
	}
	return out
}
