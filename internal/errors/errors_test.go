package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestAppErrorMessage(t *testing.T) {
	cause := stderrors.New("device gone")
	err := Wrap(cause, CodeFrameUnavailable, "read failed").WithMetadata("device", "0")

	msg := err.Error()
	for _, want := range []string{"[FRAME_UNAVAILABLE]", "read failed", "device:0", "caused by: device gone"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(CodeSizeMismatch, "640x480 vs %dx%d", 320, 240)
	wrapped := fmt.Errorf("cycle: %w", err)

	if !stderrors.Is(wrapped, ErrSizeMismatch) {
		t.Error("wrapped size mismatch should match ErrSizeMismatch")
	}
	if stderrors.Is(wrapped, ErrFrameUnavailable) {
		t.Error("size mismatch should not match ErrFrameUnavailable")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeUnknown},
		{stderrors.New("plain"), CodeUnknown},
		{New(CodeRecordFailed, "x"), CodeRecordFailed},
		{fmt.Errorf("outer: %w", New(CodeDeviceOpen, "x")), CodeDeviceOpen},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !IsCode(ErrDeviceClosed, CodeDeviceClosed) {
		t.Error("IsCode should match sentinel code")
	}
	if IsCode(nil, CodeUnknown) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrFrameUnavailable) {
		t.Error("frame unavailable should be retryable")
	}
	if !IsRetryable(New(CodeDeviceOpen, "busy")) {
		t.Error("device open should be retryable")
	}
	if IsRetryable(ErrSizeMismatch) {
		t.Error("size mismatch should not be retryable")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeSizeMismatch, http.StatusBadRequest},
		{CodeFrameUnavailable, http.StatusServiceUnavailable},
		{CodeDeviceClosed, http.StatusConflict},
		{CodeRecordFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestGRPCStatus(t *testing.T) {
	err := New(CodeSizeMismatch, "bad frame").WithMetadata("want", "640x480")

	st, ok := status.FromError(err)
	if !ok {
		t.Fatal("status.FromError should recognise AppError")
	}
	if st.Code() != codes.InvalidArgument {
		t.Errorf("code = %v, want InvalidArgument", st.Code())
	}

	var found bool
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		found = true
		if got := s.Fields["code"].GetStringValue(); got != "SIZE_MISMATCH" {
			t.Errorf("detail code = %q, want SIZE_MISMATCH", got)
		}
		if got := s.Fields["want"].GetStringValue(); got != "640x480" {
			t.Errorf("detail want = %q, want 640x480", got)
		}
	}
	if !found {
		t.Error("expected a Struct detail")
	}
}

func TestCodeString(t *testing.T) {
	if CodeCancelled.String() != "CANCELLED" {
		t.Errorf("String() = %q", CodeCancelled.String())
	}
	if Code(99).String() != "CODE_99" {
		t.Errorf("String() = %q", Code(99).String())
	}
}
