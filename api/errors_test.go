package api_test

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/momentics/iocp-ws/api"
)

func TestErrorIsSentinel(t *testing.T) {
	cases := []struct {
		code api.ErrorCode
		want error
	}{
		{api.ErrCodeInvalidArgument, api.ErrInvalidArgument},
		{api.ErrCodeResourceExhausted, api.ErrResourceExhausted},
		{api.ErrCodeNotSupported, api.ErrNotSupported},
		{api.ErrCodeTransportClosed, api.ErrTransportClosed},
	}
	for _, tc := range cases {
		err := fmt.Errorf("outer: %w", api.NewError(tc.code, "boom"))
		if !errors.Is(err, tc.want) {
			t.Errorf("%v: errors.Is(%v) = false", tc.code, tc.want)
		}
		if errors.Is(err, api.ErrAlreadyRunning) {
			t.Errorf("%v: matched unrelated sentinel", tc.code)
		}
	}
	if errors.Is(api.NewError(api.ErrCodeInternal, "x"), api.ErrInvalidArgument) {
		t.Error("internal error matched invalid argument")
	}
}

func TestErrorMessageAndContext(t *testing.T) {
	err := api.NewError(api.ErrCodeInvalidArgument, "bad value").
		WithContext("value", 7).
		WithContext("field", "workers")
	if got, want := err.Error(), "bad value (field=workers, value=7)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	wrapped := api.NewError(api.ErrCodeTransportClosed, "read").Wrap(io.EOF)
	if got := wrapped.Error(); got != "read: EOF" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(wrapped, io.EOF) || !errors.Is(wrapped, api.ErrTransportClosed) {
		t.Fatal("wrapped error lost its cause or class")
	}

	var ae *api.Error
	if !errors.As(fmt.Errorf("ctx: %w", err), &ae) || ae.Code != api.ErrCodeInvalidArgument {
		t.Fatalf("errors.As = %v", ae)
	}
}

func TestErrorCodeAndStateStrings(t *testing.T) {
	if s := api.ErrCodeNotSupported.String(); s == "" {
		t.Error("empty code name")
	}
	for st, want := range map[api.ConnState]string{
		api.StateConnecting: "connecting",
		api.StateOpen:       "open",
		api.StateClosing:    "closing",
		api.StateClosed:     "closed",
	} {
		if st.String() != want {
			t.Errorf("%d.String() = %q", st, st.String())
		}
	}
}
