package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/balkashynov/wrokhub/internal/models"
)

// ParsedTask represents a task parsed from a one-line quick-add string
type ParsedTask struct {
	Title     string
	Assignees []string
	Priority  models.Priority
	DueDate   *time.Time
	Errors    []string
}

var (
	assigneeRegex = regexp.MustCompile(`@([a-zA-Z0-9_.,-]+)`)
	priorityRegex = regexp.MustCompile(`\+([a-zA-Z0-9]+)`)
	dueRegex      = regexp.MustCompile(`due:(\S+)`)
)

// ParseTitle extracts metadata from a task title using natural syntax
// Syntax: "Task title @alice,bob +high due:3days"
func ParseTitle(input string, now time.Time) ParsedTask {
	result := ParsedTask{Errors: []string{}}

	// Extract assignees (@alice,bob or @alice @bob)
	for _, match := range assigneeRegex.FindAllStringSubmatch(input, -1) {
		for _, name := range strings.Split(match[1], ",") {
			if name = strings.TrimSpace(name); name != "" {
				result.Assignees = append(result.Assignees, name)
			}
		}
	}
	input = assigneeRegex.ReplaceAllString(input, "")

	// Extract priority (+high, +4, etc.)
	if m := priorityRegex.FindStringSubmatch(input); len(m) > 1 {
		if p, ok := NormalizePriority(m[1]); ok {
			result.Priority = p
		} else {
			result.Errors = append(result.Errors, "Invalid priority '"+m[1]+"'. Use: low, normal, high, urgent, or 1-4")
		}
		input = priorityRegex.ReplaceAllString(input, "")
	}

	// Extract due date (due:3days, due:15/12/2026, etc.)
	if m := dueRegex.FindStringSubmatch(input); len(m) > 1 {
		dueDate, err := ParseDueDate(m[1], now)
		if err != nil {
			result.Errors = append(result.Errors, "Invalid due date '"+m[1]+"': "+err.Error())
		} else {
			result.DueDate = dueDate
		}
		input = dueRegex.ReplaceAllString(input, "")
	}

	result.Title = strings.Join(strings.Fields(input), " ")
	return result
}

// NormalizePriority maps a priority word or level to a Priority.
func NormalizePriority(priority string) (models.Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "1", "low":
		return models.PriorityLow, true
	case "2", "normal", "medium", "med":
		return models.PriorityNormal, true
	case "3", "high":
		return models.PriorityHigh, true
	case "4", "urgent":
		return models.PriorityUrgent, true
	}
	return "", false
}
