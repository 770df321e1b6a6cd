package analyze

import (
	"fmt"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Security flags modules that complicate or weaken triage: a CLR module
// with no recorded version (can't be checked against known-vulnerable
// releases) and modules sharing a name but loaded from different paths
// (consistent with a side-loaded or hijacked native DLL).
func Security(modules []types.ModuleInfo) *types.SecurityFragment {
	var findings []types.SecurityFinding

	byName := make(map[string][]string)
	for _, m := range modules {
		byName[m.Name] = append(byName[m.Name], m.Path)
		if m.IsCLR && m.Version == "" {
			findings = append(findings, types.SecurityFinding{
				Severity:    "info",
				Description: fmt.Sprintf("module %s has no recorded version; cannot be checked against known-vulnerable releases", m.Name),
			})
		}
	}

	for name, paths := range byName {
		if len(paths) < 2 {
			continue
		}
		distinct := distinctNonEmpty(paths)
		if len(distinct) > 1 {
			findings = append(findings, types.SecurityFinding{
				Severity:    "warning",
				Description: fmt.Sprintf("module %s loaded from %d different paths: %v", name, len(distinct), distinct),
			})
		}
	}

	if len(findings) == 0 {
		return nil
	}
	return &types.SecurityFragment{Findings: findings}
}

func distinctNonEmpty(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
