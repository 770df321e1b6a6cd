package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "debugger exec failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find wrapped cause")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		InvalidArgument: http.StatusBadRequest,
		Unauthorized:    http.StatusUnauthorized,
		NotFound:        http.StatusNotFound,
		QuotaExceeded:   http.StatusTooManyRequests,
		Internal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestToJSONRPCError_PreservesCode(t *testing.T) {
	err := New(InvalidArgument, "missing dumpId")
	rpcErr := ToJSONRPCError(err)

	data, ok := rpcErr.Data.(map[string]string)
	if !ok || data["code"] != string(InvalidArgument) {
		t.Errorf("expected taxonomy code preserved in Data, got %v", rpcErr.Data)
	}
}

func TestToJSONRPCError_UntypedFallsBackToInternal(t *testing.T) {
	rpcErr := ToJSONRPCError(errors.New("plain error"))
	if rpcErr.Code != -32603 {
		t.Errorf("expected RPCInternalError for untyped error, got %d", rpcErr.Code)
	}
}

func TestIsCode(t *testing.T) {
	err := New(QuotaExceeded, "session limit reached")
	if !IsCode(err, QuotaExceeded) {
		t.Error("expected IsCode to match")
	}
	if IsCode(err, NotFound) {
		t.Error("expected IsCode to not match a different code")
	}
	if IsCode(errors.New("plain"), QuotaExceeded) {
		t.Error("expected IsCode to reject untyped errors")
	}
}
