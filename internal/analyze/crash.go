// Package analyze holds the pure Dump -> AnalysisFragment analyzers:
// crash summary, GC, contention, and security. Each function takes only
// the structured data the debugger driver and managed reader already
// gathered and returns a report fragment; none perform I/O.
package analyze

import (
	"fmt"
	"strings"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Crash builds the top-level summary fragment from the faulting thread's
// stack and the exception the debugger reported, if any.
func Crash(threads []types.ThreadInfo, faultingThreadID int, exceptionType, exceptionMessage string) types.SummaryFragment {
	frag := types.SummaryFragment{
		ExceptionType:  exceptionType,
		FaultingThread: faultingThreadID,
	}

	var faulting *types.ThreadInfo
	for i := range threads {
		if threads[i].ID == faultingThreadID {
			faulting = &threads[i]
			break
		}
	}

	switch {
	case exceptionType != "" && faulting != nil:
		frag.Description = fmt.Sprintf("Thread %d faulted with %s: %s\n%s",
			faultingThreadID, exceptionType, exceptionMessage, topFrames(*faulting, 5))
	case exceptionType != "":
		frag.Description = fmt.Sprintf("Unhandled %s: %s", exceptionType, exceptionMessage)
	case faulting != nil:
		frag.Description = fmt.Sprintf("Thread %d is the likely fault origin:\n%s", faultingThreadID, topFrames(*faulting, 5))
	default:
		frag.Description = "No faulting thread or unhandled exception was identified from the dump."
	}

	frag.Recommendations = recommendationsFor(exceptionType, faulting)
	return frag
}

func topFrames(t types.ThreadInfo, limit int) string {
	var b strings.Builder
	for i, f := range t.Frames {
		if i >= limit {
			fmt.Fprintf(&b, "  ... %d more frames\n", len(t.Frames)-limit)
			break
		}
		fmt.Fprintf(&b, "  %s", f.Method)
		if f.File != "" {
			fmt.Fprintf(&b, " (%s:%d)", f.File, f.Line)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func recommendationsFor(exceptionType string, faulting *types.ThreadInfo) []string {
	var recs []string
	switch {
	case strings.Contains(exceptionType, "OutOfMemoryException"):
		recs = append(recs, "Inspect the GC heap breakdown for a leak or an unexpectedly large working set.")
	case strings.Contains(exceptionType, "NullReferenceException"):
		recs = append(recs, "Check the faulting frame's locals for an uninitialized or disposed reference.")
	case strings.Contains(exceptionType, "StackOverflowException"):
		recs = append(recs, "Look for unbounded recursion near the top of the faulting thread's stack.")
	}
	if faulting != nil && len(faulting.Frames) > 0 && !faulting.Native {
		recs = append(recs, "Review managed frame "+faulting.Frames[0].Method+" for the immediate cause.")
	}
	return recs
}
