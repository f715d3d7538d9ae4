package nbi

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/signalsfoundry/entity-state-sim/internal/protocol"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "unknown entity", err: protocol.UnknownEntity("robot9"), code: codes.NotFound},
		{name: "missing target", err: protocol.MissingTarget("a", "b"), code: codes.NotFound},
		{name: "invalid request", err: fmt.Errorf("%w: no payload", protocol.ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "collision", err: protocol.NameCollision("b1"), code: codes.AlreadyExists},
		{name: "outbox closed", err: fmt.Errorf("forward: %w", ErrOutboxClosed), code: codes.Unavailable},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
