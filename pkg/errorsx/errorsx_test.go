package errorsx

import (
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonRecognizeSend)
	if Reason(err) != ReasonRecognizeSend {
		t.Fatalf("expected reason %s, got %s", ReasonRecognizeSend, Reason(err))
	}
	if !HasReason(err, ReasonRecognizeSend) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonRecognizeConnect)
	second := Wrap(first, ReasonRecognizeSend)
	if Reason(second) != ReasonRecognizeConnect {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestReasonFromTypedError(t *testing.T) {
	err := fmt.Errorf("decode: %w", reasonedErr{})
	if Reason(err) != ReasonRecognizeProtocol {
		t.Fatalf("expected protocol reason, got %s", Reason(err))
	}
	if Wrap(err, ReasonRecognizeSend) != err {
		t.Fatalf("expected typed reason to be kept")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, ReasonRecognizeSend) != nil {
		t.Fatalf("expected nil")
	}
	if Reason(nil) != ReasonUnknown {
		t.Fatalf("expected unknown reason for nil")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

type reasonedErr struct{}

func (reasonedErr) Error() string          { return "bad frame" }
func (reasonedErr) ReasonCode() ReasonCode { return ReasonRecognizeProtocol }
