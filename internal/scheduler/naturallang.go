package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/scottgal/flowforge/internal/ferrors"
)

var weekdayNames = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

var (
	reEveryNMinutes = regexp.MustCompile(`^every\s+(\d+)\s+minutes?$`)
	reEveryNHours   = regexp.MustCompile(`^every\s+(\d+)\s+hours?$`)
	reDailyAt       = regexp.MustCompile(`^every\s+day\s+at\s+(.+)$`)
	reWeeklyAt      = regexp.MustCompile(`^every\s+(\w+)\s+at\s+(.+)$`)
	reClock         = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// ParseNaturalLanguageSchedule converts a handful of common natural-language
// schedule phrasings (spec §4.9: `"every sunday at noon"`) into a standard
// 5-field cron expression. It recognizes "every N minutes", "every N
// hours", "every day at <time>", "every <weekday> at <time>", where <time>
// is either "noon"/"midnight" or HH[:MM][am|pm]. Anything else is rejected
// rather than guessed at.
func ParseNaturalLanguageSchedule(nl string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(nl))

	if m := reEveryNMinutes.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("*/%s * * * *", m[1]), nil
	}
	if m := reEveryNHours.FindStringSubmatch(s); m != nil {
		return fmt.Sprintf("0 */%s * * *", m[1]), nil
	}
	if m := reWeeklyAt.FindStringSubmatch(s); m != nil {
		if dow, ok := weekdayNames[m[1]]; ok {
			hour, minute, err := parseTimeOfDay(m[2])
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d %d * * %d", minute, hour, dow), nil
		}
	}
	if m := reDailyAt.FindStringSubmatch(s); m != nil {
		hour, minute, err := parseTimeOfDay(m[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	}

	return "", ferrors.New(ferrors.CodeInvalidCronExpression, "unrecognized natural language schedule: "+nl)
}

// parseTimeOfDay resolves a time token ("noon", "midnight", or HH[:MM][am|pm])
// into a 24-hour clock.
func parseTimeOfDay(token string) (hour, minute int, err error) {
	switch token {
	case "noon":
		return 12, 0, nil
	case "midnight":
		return 0, 0, nil
	}

	m := reClock.FindStringSubmatch(token)
	if m == nil {
		return 0, 0, ferrors.New(ferrors.CodeInvalidCronExpression, "unrecognized time of day: "+token)
	}
	return parseClock(m[1], m[2], m[3])
}

func parseClock(hourStr, minuteStr, ampm string) (hour, minute int, err error) {
	hour, err = strconv.Atoi(hourStr)
	if err != nil {
		return 0, 0, ferrors.Wrap(ferrors.CodeInvalidCronExpression, "malformed hour", err)
	}
	if minuteStr != "" {
		minute, err = strconv.Atoi(minuteStr)
		if err != nil {
			return 0, 0, ferrors.Wrap(ferrors.CodeInvalidCronExpression, "malformed minute", err)
		}
	}
	switch ampm {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, ferrors.New(ferrors.CodeInvalidCronExpression, "hour/minute out of range")
	}
	return hour, minute, nil
}
