package domain

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf16"
)

// CommitHash computes the public integrity checksum for a signal: a 32-bit
// rolling hash over the content concatenated with the millisecond timestamp,
// rendered as 8 lowercase hex digits. It is a tamper-evidence checksum, not a
// cryptographic commitment. The dashboard recomputes it client side, so the
// algorithm must not change.
func CommitHash(content string, ts time.Time) string {
	input := content + strconv.FormatInt(ts.UnixMilli(), 10)
	var h int32
	for _, cu := range utf16.Encode([]rune(input)) {
		h = (h << 5) - h + int32(cu)
	}
	m := int64(h)
	if m < 0 {
		m = -m
	}
	return fmt.Sprintf("%08x", m)
}
