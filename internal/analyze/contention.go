package analyze

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode/pkg/types"
)

// contentionMarkers are frame-method substrings that indicate a thread is
// blocked waiting on a lock or synchronization primitive, the way SOS's
// own `!syncblk` output is read by a human triaging a hang.
var contentionMarkers = []string{
	"Monitor.Enter",
	"Monitor.Wait",
	"SpinLock",
	"SemaphoreSlim.Wait",
	"ManualResetEvent",
	"WaitHandle.WaitOne",
	"ReaderWriterLock",
}

// Contention scans each thread's stack for synchronization-primitive
// frames and reports the blocked set. Returns nil if no thread appears
// blocked — an empty ContentionFragment would read as "checked, found
// nothing" when really nothing indicated contention at all.
func Contention(threads []types.ThreadInfo) *types.ContentionFragment {
	var blocked []int
	var findings []string

	for _, t := range threads {
		for _, f := range t.Frames {
			if marker, ok := matchesContentionMarker(f.Method); ok {
				blocked = append(blocked, t.ID)
				findings = append(findings, fmt.Sprintf("thread %d blocked in %s (%s)", t.ID, marker, f.Method))
				break
			}
		}
	}

	if len(blocked) == 0 {
		return nil
	}
	return &types.ContentionFragment{BlockedThreads: blocked, Findings: findings}
}

func matchesContentionMarker(method string) (string, bool) {
	for _, marker := range contentionMarkers {
		if strings.Contains(method, marker) {
			return marker, true
		}
	}
	return "", false
}
