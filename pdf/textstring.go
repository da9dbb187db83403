package pdf

import (
	"strings"
	"time"
	"unicode/utf16"
)

// DecodeTextString converts a PDF text string to UTF-8. Strings with a
// UTF-16BE or UTF-8 BOM are decoded accordingly; everything else is treated
// as PDFDocEncoding, which matches Latin-1 for the printable range.
func DecodeTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u16 := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u16 = append(u16, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u16))
	}
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return string(b[3:])
	}
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}

// ParseDate parses a PDF date string (D:YYYYMMDDHHmmSSOHH'mm'). Every
// component after the year is optional.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "D:")
	if len(s) < 4 || !allDigits(s[:4]) {
		return time.Time{}, false
	}
	year := atoi(s[:4])
	s = s[4:]
	month, day, hour, minute, sec := 1, 1, 0, 0, 0

	next := func(dst *int, lo, hi int) bool {
		if len(s) < 2 || !allDigits(s[:2]) {
			return false
		}
		v := atoi(s[:2])
		if v < lo || v > hi {
			return false
		}
		*dst = v
		s = s[2:]
		return true
	}
	if next(&month, 1, 12) && next(&day, 1, 31) && next(&hour, 0, 23) && next(&minute, 0, 59) {
		next(&sec, 0, 59)
	}

	loc := time.UTC
	if len(s) > 0 {
		switch s[0] {
		case 'Z':
			// UTC
		case '+', '-':
			sign := 1
			if s[0] == '-' {
				sign = -1
			}
			s = s[1:]
			oh, om := 0, 0
			if len(s) >= 2 && allDigits(s[:2]) {
				oh = atoi(s[:2])
				s = s[2:]
				s = strings.TrimPrefix(s, "'")
				if len(s) >= 2 && allDigits(s[:2]) {
					om = atoi(s[:2])
				}
			}
			loc = time.FixedZone("", sign*(oh*3600+om*60))
		}
	}
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, loc), true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func atoi(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
