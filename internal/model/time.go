package model

import "time"

// TimeFormat 是对话记录时间戳使用的格式。
const TimeFormat = "2006-01-02 15:04:05"

// FormatTime formats t as a conversation timestamp.
func FormatTime(t time.Time) string {
	return t.Format(TimeFormat)
}
