package types

import "encoding/json"

// Watch is a persisted expression evaluated on demand against a dump.
// Owned by the (UserID, DumpID) pair.
type Watch struct {
	ID          string `json:"id"`
	DumpID      string `json:"dumpID"`
	Expression  string `json:"expression"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// WatchResultKind discriminates the shape of a watch evaluation result.
type WatchResultKind string

const (
	WatchResultAddress   WatchResultKind = "address"
	WatchResultPrimitive WatchResultKind = "primitive"
	WatchResultObject    WatchResultKind = "object"
	WatchResultError     WatchResultKind = "error"
)

// WatchResult is the classified outcome of evaluating a Watch's expression
// through the debugger's exec primitive.
type WatchResult interface {
	ResultKind() WatchResultKind
	ResultWatchID() string
}

// AddressResult is a watch result that resolved to a bare memory address.
type AddressResult struct {
	WatchID string `json:"watchID"`
	Kind    string `json:"kind"` // always "address"
	Address string `json:"address"`
}

func (r *AddressResult) ResultKind() WatchResultKind { return WatchResultAddress }
func (r *AddressResult) ResultWatchID() string       { return r.WatchID }

// PrimitiveResult is a watch result that resolved to a scalar value.
type PrimitiveResult struct {
	WatchID string `json:"watchID"`
	Kind    string `json:"kind"` // always "primitive"
	Value   string `json:"value"`
	CLRType string `json:"clrType,omitempty"`
}

func (r *PrimitiveResult) ResultKind() WatchResultKind { return WatchResultPrimitive }
func (r *PrimitiveResult) ResultWatchID() string       { return r.WatchID }

// ObjectResult is a watch result that resolved to a managed object.
type ObjectResult struct {
	WatchID     string            `json:"watchID"`
	Kind        string            `json:"kind"` // always "object"
	MethodTable string            `json:"methodTable,omitempty"`
	TypeName    string            `json:"typeName,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

func (r *ObjectResult) ResultKind() WatchResultKind { return WatchResultObject }
func (r *ObjectResult) ResultWatchID() string       { return r.WatchID }

// ErrorResult is a watch result that failed to evaluate.
type ErrorResult struct {
	WatchID string `json:"watchID"`
	Kind    string `json:"kind"` // always "error"
	Message string `json:"message"`
}

func (r *ErrorResult) ResultKind() WatchResultKind { return WatchResultError }
func (r *ErrorResult) ResultWatchID() string       { return r.WatchID }

type rawWatchResult struct {
	WatchID string `json:"watchID"`
	Kind    string `json:"kind"`
}

// UnmarshalWatchResult unmarshals a JSON watch result into its concrete
// discriminated type, keyed on the "kind" field.
func UnmarshalWatchResult(data []byte) (WatchResult, error) {
	var raw rawWatchResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch WatchResultKind(raw.Kind) {
	case WatchResultAddress:
		var r AddressResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case WatchResultPrimitive:
		var r PrimitiveResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case WatchResultObject:
		var r ObjectResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	default:
		var r ErrorResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		return &r, nil
	}
}
