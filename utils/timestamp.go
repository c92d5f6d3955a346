package utils

import (
	"fmt"
	"time"
)

// Timestamp renders t as 2006-01-02_150405-<microseconds>, unique enough to name
// per-invocation scripts and contained roots.
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%s-%06d", t.Format("2006-01-02_150405"), t.Nanosecond()/int(time.Microsecond))
}
