package types

// Dump is a per-user uploaded crash dump and its enrichment metadata.
// Invariant: the metadata file and the dump file share a filename stem.
type Dump struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userID"`
	Path           string  `json:"path"`
	Description    string  `json:"description,omitempty"`
	Sha            string  `json:"sha"`
	IsAlpineDump   *bool   `json:"isAlpineDump,omitempty"`
	RuntimeVersion *string `json:"runtimeVersion,omitempty"`
	Architecture   *string `json:"architecture,omitempty"`
	ExecutablePath *string `json:"executablePath,omitempty"`
	IsDotNet       *bool   `json:"isDotNet,omitempty"`
	Time           DumpTime `json:"time"`
}

// DumpTime contains dump upload timestamps.
type DumpTime struct {
	Uploaded int64  `json:"uploaded"`
	Opened   *int64 `json:"opened,omitempty"`
}
