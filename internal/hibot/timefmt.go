package hibot

import (
	"fmt"
	"strings"
	"time"
)

// isoZ 为接口要求的时间格式：UTC、毫秒、字面量 Z。
const isoZ = "2006-01-02T15:04:05.000Z"

// FormatISOZ 将时间格式化为 2025-12-10T00:00:00.000Z。
func FormatISOZ(t time.Time) string {
	return t.UTC().Format(isoZ)
}

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp 解析命令行日期；不带时区的按 UTC 处理。
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q (want YYYY-MM-DD HH:MM:SS)", s)
}
