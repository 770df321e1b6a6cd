package ailoop

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/opencode-ai/opencode/pkg/types"
)

// maxIndexEntries bounds how many (path, size) pairs reportIndex returns —
// a report with deeply nested arrays could otherwise produce an index
// larger than the report itself.
const maxIndexEntries = 500

// SectionInfo is one entry of a report index: an addressable dot-path and
// the byte size of the JSON value at that path.
type SectionInfo struct {
	Path      string `json:"path"`
	SizeBytes int    `json:"sizeBytes"`
}

// toTree round-trips snap through JSON into a generic map/slice tree so it
// can be walked and addressed uniformly regardless of its Go struct shape.
func toTree(snap types.ReportSnapshot) (any, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// reportIndex flattens snap into every addressable (path, sizeBytes) pair,
// letting the model choose what to fetch instead of inlining the whole
// report into a prompt.
func reportIndex(snap types.ReportSnapshot) ([]SectionInfo, error) {
	tree, err := toTree(snap)
	if err != nil {
		return nil, err
	}
	var entries []SectionInfo
	walk("", tree, &entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	if len(entries) > maxIndexEntries {
		entries = entries[:maxIndexEntries]
	}
	return entries, nil
}

func walk(path string, v any, entries *[]SectionInfo) {
	if len(*entries) >= maxIndexEntries {
		return
	}
	if path != "" {
		size := 0
		if raw, err := json.Marshal(v); err == nil {
			size = len(raw)
		}
		*entries = append(*entries, SectionInfo{Path: path, SizeBytes: size})
	}

	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			walk(childPath, child, entries)
		}
	case []any:
		for i, child := range t {
			walk(fmt.Sprintf("%s[%d]", path, i), child, entries)
		}
	}
}

// getSection resolves path against snap and returns the JSON value there.
// For array values, only elements [cursor:cursor+limit) are returned, and
// nextCursor is the cursor to resume at, or -1 once the array is exhausted.
func getSection(snap types.ReportSnapshot, path string, limit, cursor int) (data json.RawMessage, nextCursor int, err error) {
	tree, err := toTree(snap)
	if err != nil {
		return nil, -1, err
	}

	v, err := navigate(tree, path)
	if err != nil {
		return nil, -1, err
	}

	arr, isArray := v.([]any)
	if !isArray {
		raw, err := json.Marshal(v)
		return raw, -1, err
	}

	if limit <= 0 {
		limit = 50
	}
	if cursor < 0 {
		cursor = 0
	}
	end := cursor + limit
	if end > len(arr) {
		end = len(arr)
	}
	page := arr[cursor:end]
	raw, err := json.Marshal(page)
	if err != nil {
		return nil, -1, err
	}
	if end >= len(arr) {
		return raw, -1, nil
	}
	return raw, end, nil
}

func navigate(root any, path string) (any, error) {
	if path == "" {
		return root, nil
	}
	cur := root
	for _, token := range strings.Split(path, ".") {
		name, idx, hasIdx := parseToken(token)
		if name != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("ailoop: %q is not an object", name)
			}
			v, ok := m[name]
			if !ok {
				return nil, fmt.Errorf("ailoop: no such field %q", name)
			}
			cur = v
		}
		if hasIdx {
			arr, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("ailoop: %q is not an array", token)
			}
			if idx < 0 || idx >= len(arr) {
				return nil, fmt.Errorf("ailoop: index %d out of range for %q", idx, token)
			}
			cur = arr[idx]
		}
	}
	return cur, nil
}

// parseToken splits a path segment like "all[3]" into its field name and
// optional array index.
func parseToken(token string) (name string, idx int, hasIdx bool) {
	open := strings.IndexByte(token, '[')
	if open < 0 {
		return token, 0, false
	}
	name = token[:open]
	close := strings.IndexByte(token[open:], ']')
	if close < 0 {
		return name, 0, false
	}
	n, err := strconv.Atoi(token[open+1 : open+close])
	if err != nil {
		return name, 0, false
	}
	return name, n, true
}
