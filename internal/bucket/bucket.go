// Package bucket computes the stable crash-bucket key used to group
// repeat occurrences of the same underlying fault: the exception code,
// fault module filename, and a short callstack prefix are joined into
// one canonical string and hashed with FNV-1a/64.
package bucket

import (
	"fmt"
	"strings"
)

const (
	fnvOffsetBasis uint64 = 14695981039346656037
	fnvPrime       uint64 = 1099511628211
	maxFrames             = 6
)

// fnv1a64 hashes s with the FNV-1a/64 algorithm.
func fnv1a64(s string) uint64 {
	h := fnvOffsetBasis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= fnvPrime
	}
	return h
}

// asciiFallback lowercases and trims s, then replaces any code point
// outside the ASCII range (above 0x7F) with '?' so the key stays stable
// across locales.
func asciiFallback(s string) string {
	trimmed := strings.TrimFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\r' || r == '\n'
	})
	lower := strings.ToLower(trimmed)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if r >= 0 && r <= 0x7F {
			b.WriteByte(byte(r))
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// Key computes CTD-<16 lowercase hex> for the given exception code,
// fault module name, and up to the first six callstack frames.
func Key(exceptionCode uint32, faultModule string, frames []string) string {
	var canonical strings.Builder
	fmt.Fprintf(&canonical, "exc=0x%x|mod=%s", exceptionCode, asciiFallback(faultModule))

	n := len(frames)
	if n > maxFrames {
		n = maxFrames
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&canonical, "|f%d=%s", i, asciiFallback(frames[i]))
	}

	hash := fnv1a64(canonical.String())
	return fmt.Sprintf("CTD-%016x", hash)
}
