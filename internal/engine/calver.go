package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// nextCalverName returns the calendar version name for a publish happening at
// t, given the previously published name (empty for a first publish). Names
// are yyyy.ww.minor on the ISO week calendar; publishing again inside the
// same week bumps the minor, a new week resets it to 1.
func nextCalverName(t time.Time, previous string) string {
	year, week := t.UTC().ISOWeek()
	if py, pw, pm, ok := parseCalverName(previous); ok && py == year && pw == week {
		return fmt.Sprintf("%d.%d.%d", year, week, pm+1)
	}
	return fmt.Sprintf("%d.%d.1", year, week)
}

func parseCalverName(name string) (year, week, minor int, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if year, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if week, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if minor, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, false
	}
	return year, week, minor, true
}
