// Package dedup clusters structurally identical defect reports.
//
// Two reports belong to the same cluster when their error message, stack
// trace, and originating route hash to the same fingerprint after
// normalization. Normalization strips the volatile parts of a stack trace
// (absolute filesystem paths, line and column numbers) so that the same
// logical failure captured from different builds or machines still lands
// in one group.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	// Line/column suffixes in stack frames: "bundle.js:341:17" → "bundle.js"
	lineColPattern = regexp.MustCompile(`:\d+(?::\d+)?`)

	// Unix absolute directory prefixes: "/home/ci/app/src/render.ts" → "render.ts"
	unixPathPattern = regexp.MustCompile(`/(?:[\w.@+~-]+/)+`)

	// Windows absolute directory prefixes: "C:\build\app\render.ts" → "render.ts"
	windowsPathPattern = regexp.MustCompile(`[A-Za-z]:\\(?:[\w.@ ~-]+\\)*`)
)

// NormalizeMessage trims an error message for hashing
func NormalizeMessage(message string) string {
	return strings.TrimSpace(message)
}

// NormalizeStack strips absolute filesystem paths and line/column numbers
// from a stack trace, then collapses surrounding whitespace per frame.
// The result identifies the shape of the failure, not the build it came from.
func NormalizeStack(stack string) string {
	stack = lineColPattern.ReplaceAllString(stack, "")
	stack = unixPathPattern.ReplaceAllString(stack, "")
	stack = windowsPathPattern.ReplaceAllString(stack, "")

	lines := strings.Split(stack, "\n")
	frames := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			frames = append(frames, trimmed)
		}
	}
	return strings.Join(frames, "\n")
}

// NormalizeRoute lowercases and trims an originating route
func NormalizeRoute(route string) string {
	return strings.ToLower(strings.TrimSpace(route))
}

// Hash computes the dedup fingerprint for an error signal. It is a pure
// function: identical normalized inputs always yield the identical hash,
// and an entirely empty signal still produces a valid hash (all contentless
// reports share one group).
func Hash(message, stack, route string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeMessage(message)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeStack(stack)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeRoute(route)))
	return hex.EncodeToString(h.Sum(nil))
}
