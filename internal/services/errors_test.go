package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"lingest/internal/services"
)

func TestWrapPreservesMarkerAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "transcribe", "post", "speech request failed", cause)

	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("marker lost: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	for _, want := range []string{"transcribe", "post", "speech request failed", "connection reset"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "transcribe", "post", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("nil marker should default to transient: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want services.Kind
	}{
		{nil, services.KindUnknown},
		{services.Wrap(services.ErrTransient, "s", "o", "m", nil), services.KindTransient},
		{services.Wrap(services.ErrMalformed, "s", "o", "m", nil), services.KindMalformed},
		{services.Wrap(services.ErrFatal, "s", "o", "m", nil), services.KindFatal},
		{services.Wrap(services.ErrValidation, "s", "o", "m", nil), services.KindValidation},
		{services.Wrap(services.ErrConfiguration, "s", "o", "m", nil), services.KindConfiguration},
		{errors.New("anything else"), services.KindUnknown},
	}
	for _, tc := range cases {
		if got := services.Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestFatalOutranksTransientWhenChained(t *testing.T) {
	inner := services.Wrap(services.ErrTransient, "speech", "post", "timeout", nil)
	outer := services.Wrap(services.ErrFatal, "transcribe", "window", "corrupt audio", inner)
	if got := services.Classify(outer); got != services.KindFatal {
		t.Fatalf("Classify = %q, want fatal", got)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{services.Wrap(services.ErrTransient, "s", "o", "m", nil), true},
		{fmt.Errorf("unclassified"), true},
		// The stage retries a malformed reply once itself; escalation past
		// that point needs an operator, not another claim.
		{services.Wrap(services.ErrMalformed, "s", "o", "m", nil), false},
		{services.Wrap(services.ErrFatal, "s", "o", "m", nil), false},
		{services.Wrap(services.ErrValidation, "s", "o", "m", nil), false},
		{services.Wrap(services.ErrConfiguration, "s", "o", "m", nil), false},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if _, ok := services.ItemIDFromContext(ctx); ok {
		t.Fatal("empty context should carry no item id")
	}

	ctx = services.WithItemID(ctx, 7)
	ctx = services.WithStage(ctx, "transcribe")
	ctx = services.WithWindow(ctx, 2)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("item id = %d, %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "transcribe" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if window, ok := services.WindowFromContext(ctx); !ok || window != 2 {
		t.Fatalf("window = %d, %v", window, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("request id = %q, %v", rid, ok)
	}
}

func TestEmptyAnnotationsAreIgnored(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("empty stage should not be stored")
	}
	ctx = services.WithRequestID(context.Background(), "")
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("empty request id should not be stored")
	}
}
