//go:build !culling_release

package common

import "fmt"

// DebugAssertions reports whether Assert is active in this build.
const DebugAssertions = true

// Assert panics with the formatted message when cond is false. Builds tagged
// culling_release compile it to a no-op.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("culling: assertion failed: "+format, args...))
	}
}
