package types

// HeapStats summarizes the managed heap as of the open dump.
type HeapStats struct {
	HeapCount   int              `json:"heapCount"`
	TotalBytes  int64            `json:"totalBytes"`
	Generations []GenerationInfo `json:"generations,omitempty"`
}

// TypeInfo describes the managed type resolved from a method table address.
type TypeInfo struct {
	MethodTable string `json:"methodTable"`
	Name        string `json:"name"`
	Module      string `json:"module,omitempty"`
	IsFreeObject bool  `json:"isFreeObject,omitempty"`
}

// SourceLocation is a resolved (file, line) pair. A nil *SourceLocation
// return from sequence-point lookup means no mapping exists for that IL
// offset, distinct from a lookup error.
type SourceLocation struct {
	File string `json:"file"`
	Line int    `json:"line"`
}
