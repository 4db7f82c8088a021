package main

import (
	"fmt"
	"strconv"
	"time"
)

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTimestamp(*t)
}

func formatOptionalValue(value *string) string {
	if value == nil {
		return "-"
	}
	return *value
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
