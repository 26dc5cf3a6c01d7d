package imagegen

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBackendErrorIs(t *testing.T) {
	tests := []struct {
		err     error
		matches []error
		not     []error
	}{
		{NewConfigurationError("A", "m", "r"), []error{ErrConfiguration}, []error{ErrTransient, ErrRejected}},
		{NewRejectedError("A", "m"), []error{ErrRejected}, []error{ErrTransient}},
		{NewTransientError("A", "m", nil), []error{ErrTransient}, []error{ErrRateLimited}},
		{NewRateLimitedError("A", nil), []error{ErrRateLimited, ErrTransient}, []error{ErrQuotaExceeded}},
		{NewQuotaExceededError("A", nil), []error{ErrQuotaExceeded, ErrTransient}, []error{ErrConfiguration}},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("outer: %w", tt.err)
		for _, target := range tt.matches {
			if !errors.Is(wrapped, target) {
				t.Errorf("%v should match %v", tt.err, target)
			}
		}
		for _, target := range tt.not {
			if errors.Is(wrapped, target) {
				t.Errorf("%v should not match %v", tt.err, target)
			}
		}
	}
}

func TestClassifyAndWrap(t *testing.T) {
	if Classify(errors.New("plain")) != KindTransient {
		t.Error("unclassified errors should be transient")
	}
	be := AsBackendError("A", context.DeadlineExceeded)
	if be.Kind != KindTransient || !errors.Is(be, context.DeadlineExceeded) {
		t.Errorf("AsBackendError = %v", be)
	}
	orig := NewRejectedError("A", "nsfw")
	if AsBackendError("B", orig) != orig {
		t.Error("classified error should pass through")
	}
	if Remediation(NewRateLimitedError("A", nil)) == "" || Remediation(errors.New("x")) != "" {
		t.Error("Remediation wrong")
	}
}

func TestSurfacedKinds(t *testing.T) {
	for k, want := range map[Kind]bool{
		KindTransient:     false,
		KindRejected:      false,
		KindConfiguration: true,
		KindRateLimited:   true,
		KindQuotaExceeded: true,
	} {
		if surfaced(k) != want {
			t.Errorf("surfaced(%s) = %v", k, !want)
		}
	}
}
