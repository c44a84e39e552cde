package utils

import (
	"unsafe"
)

// BytesToString reinterprets b as a string without copying. The caller must
// not mutate b afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}

// HumanSize renders a byte count the way the diagnostics endpoints report
// cache usage.
func HumanSize(n int64) string {
	switch {
	case n < 1024:
		return itoa(n) + " B"
	case n < 1024*1024:
		return formatTenths(n*10/1024) + " KB"
	default:
		return formatTenths(n*10/(1024*1024)) + " MB"
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func formatTenths(tenths int64) string {
	whole := tenths / 10
	frac := tenths % 10
	if frac == 0 {
		return itoa(whole)
	}
	return itoa(whole) + "." + itoa(frac)
}
