package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	dateRegex     = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	relativeRegex = regexp.MustCompile(`^(\d+)\s*(hour|hours|h|day|days|d|week|weeks|w)$`)
)

// ParseDueDate parses a due date relative to now. Results are in UTC.
// Supported formats:
// - RFC 3339 (e.g., "2026-03-01T17:00:00Z")
// - yyyy-mm-dd (e.g., "2026-03-01")
// - dd/mm/yyyy (e.g., "15/12/2026")
// - X hours, X days, X weeks (e.g., "24 hours", "3days", "2w")
//
// Calendar dates resolve to the end of that day.
func ParseDueDate(input string, now time.Time) (*time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		t = t.UTC()
		return &t, nil
	}
	if t, err := time.Parse("2006-01-02", input); err == nil {
		t = endOfDay(t)
		return &t, nil
	}
	if dueDate, err := parseDateFormat(input); err == nil {
		return dueDate, nil
	}
	if dueDate, err := parseRelativeTime(input, now); err == nil {
		return dueDate, nil
	}

	return nil, fmt.Errorf("invalid date format. Use: RFC 3339, yyyy-mm-dd, dd/mm/yyyy, X hours, X days, or X weeks")
}

// parseDateFormat parses dd/mm/yyyy format
func parseDateFormat(input string) (*time.Time, error) {
	matches := dateRegex.FindStringSubmatch(input)
	if len(matches) != 4 {
		return nil, fmt.Errorf("invalid date format")
	}

	day, _ := strconv.Atoi(matches[1])
	month, _ := strconv.Atoi(matches[2])
	year, _ := strconv.Atoi(matches[3])

	if month < 1 || month > 12 {
		return nil, fmt.Errorf("month must be between 1 and 12")
	}
	if year < 2000 || year > 2100 {
		return nil, fmt.Errorf("year must be between 2000 and 2100")
	}

	dueDate := endOfDay(time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC))
	// time.Date normalises overflow, so a changed day means it did not exist
	if dueDate.Day() != day || dueDate.Month() != time.Month(month) {
		return nil, fmt.Errorf("invalid date")
	}
	return &dueDate, nil
}

// parseRelativeTime parses relative time formats like "3 days", "24 hours", etc.
func parseRelativeTime(input string, now time.Time) (*time.Time, error) {
	matches := relativeRegex.FindStringSubmatch(strings.ToLower(input))
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid relative time format")
	}

	amount, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid number")
	}
	now = now.UTC()

	switch matches[2] {
	case "hour", "hours", "h":
		if amount < 1 || amount > 8760 { // Max 1 year in hours
			return nil, fmt.Errorf("hours must be between 1 and 8760")
		}
		dueDate := now.Add(time.Duration(amount) * time.Hour)
		return &dueDate, nil

	case "day", "days", "d":
		if amount < 1 || amount > 365 {
			return nil, fmt.Errorf("days must be between 1 and 365")
		}
		dueDate := endOfDay(now.AddDate(0, 0, amount))
		return &dueDate, nil

	default:
		if amount < 1 || amount > 52 {
			return nil, fmt.Errorf("weeks must be between 1 and 52")
		}
		dueDate := endOfDay(now.AddDate(0, 0, amount*7))
		return &dueDate, nil
	}
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

// FormatDueDate formats a due date for display
func FormatDueDate(dueDate *time.Time, now time.Time) string {
	if dueDate == nil {
		return ""
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dueDay := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC)
	daysDiff := int(dueDay.Sub(today).Hours() / 24)

	dateStr := dueDate.Format("02/01/2006")

	switch {
	case daysDiff < 0:
		return fmt.Sprintf("OVERDUE (%s)", dateStr)
	case daysDiff == 0:
		return fmt.Sprintf("due today (%s)", dateStr)
	case daysDiff == 1:
		return fmt.Sprintf("due tomorrow (%s)", dateStr)
	case daysDiff <= 7:
		return fmt.Sprintf("due %s (in %d days)", dateStr, daysDiff)
	default:
		return fmt.Sprintf("due %s", dateStr)
	}
}
