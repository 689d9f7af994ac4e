//go:build culling_release

package common

// DebugAssertions reports whether Assert is active in this build.
const DebugAssertions = false

// Assert is a no-op in release builds.
func Assert(cond bool, format string, args ...any) {}
