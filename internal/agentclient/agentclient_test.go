package agentclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsRetryableClassifier(t *testing.T) {
	cases := []struct {
		code      codes.Code
		retryable bool
	}{
		{codes.Unavailable, true},
		{codes.ResourceExhausted, true},
		{codes.Aborted, true},
		{codes.Unknown, true},
		{codes.OK, false},
		{codes.InvalidArgument, false},
		{codes.NotFound, false},
		{codes.AlreadyExists, false},
		{codes.PermissionDenied, false},
		{codes.Internal, false},
		{codes.DeadlineExceeded, false},
		{codes.Canceled, false},
	}
	for _, c := range cases {
		err := status.Error(c.code, "boom")
		if got := isRetryable(err); got != c.retryable {
			t.Errorf("isRetryable(%v) = %v, want %v", c.code, got, c.retryable)
		}
	}
}

func TestIsRetryableNonStatusError(t *testing.T) {
	// status.Code on a non-status error returns codes.Unknown, which is
	// itself retryable per the classifier.
	if !isRetryable(errors.New("plain error")) {
		t.Fatal("a non-status error classifies as codes.Unknown and should be retryable")
	}
	if isRetryable(nil) {
		t.Fatal("nil error classifies as codes.OK and should not be retryable")
	}
}

func TestNextBackoffDoublesUntilCap(t *testing.T) {
	orig := maxBackoff
	maxBackoff = 5000 * time.Millisecond
	defer func() { maxBackoff = orig }()

	d := 100 * time.Millisecond
	want := []time.Duration{200, 400, 800, 1600, 3200, 5000, 5000}
	for i, w := range want {
		d = nextBackoff(d)
		if d != w*time.Millisecond {
			t.Fatalf("step %d: backoff = %v, want %v", i, d, w*time.Millisecond)
		}
	}
}

func TestWithRetrySucceedsWithoutRetryOnFirstTry(t *testing.T) {
	restoreBackoff := shrinkBackoffForTest()
	defer restoreBackoff()

	calls := 0
	result, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || result != 42 {
		t.Fatalf("result=%d err=%v, want 42, nil", result, err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestWithRetryNonRetryableFailsImmediately(t *testing.T) {
	restoreBackoff := shrinkBackoffForTest()
	defer restoreBackoff()

	calls := 0
	_, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		calls++
		return 0, status.Error(codes.InvalidArgument, "bad request")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry for a non-retryable code)", calls)
	}
}

func TestWithRetrySucceedsAfterRetryableFailures(t *testing.T) {
	restoreBackoff := shrinkBackoffForTest()
	defer restoreBackoff()

	calls := 0
	result, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, status.Error(codes.Unavailable, "transient")
		}
		return 7, nil
	})
	if err != nil || result != 7 {
		t.Fatalf("result=%d err=%v, want 7, nil", result, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestWithRetryExhaustsAfterMaxRetries(t *testing.T) {
	restoreBackoff := shrinkBackoffForTest()
	defer restoreBackoff()

	calls := 0
	_, err := withRetry(context.Background(), "test-op", func(ctx context.Context) (int, error) {
		calls++
		return 0, status.Error(codes.Unavailable, "always down")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != maxRetries+1 {
		t.Fatalf("calls = %d, want %d (maxRetries+1 attempts)", calls, maxRetries+1)
	}
}

func TestWithRetryCancelledDuringSleepReturnsContextError(t *testing.T) {
	origInitial := initialBackoff
	initialBackoff = 50 * time.Millisecond
	defer func() { initialBackoff = origInitial }()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := withRetry(ctx, "test-op", func(ctx context.Context) (int, error) {
		calls++
		return 0, status.Error(codes.Unavailable, "transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (cancelled during the first backoff sleep)", calls)
	}
}

func TestTLSConfigValidateAllOrNothing(t *testing.T) {
	if err := (TLSConfig{}).Validate(); err != nil {
		t.Fatalf("empty TLSConfig should validate, got %v", err)
	}
	full := TLSConfig{CertFile: "c", KeyFile: "k", CAFile: "a"}
	if err := full.Validate(); err != nil {
		t.Fatalf("fully populated TLSConfig should validate, got %v", err)
	}
	if !full.enabled() {
		t.Fatal("fully populated TLSConfig should report enabled")
	}
}

func TestTLSConfigValidateRejectsPartial(t *testing.T) {
	partials := []TLSConfig{
		{CertFile: "c"},
		{CertFile: "c", KeyFile: "k"},
		{CAFile: "a"},
		{KeyFile: "k", CAFile: "a"},
	}
	for _, p := range partials {
		if err := p.Validate(); err == nil {
			t.Fatalf("%+v: expected a validation error for a partial TLS config", p)
		}
	}
}

// shrinkBackoffForTest lowers the package backoff vars so retry tests run
// fast, returning a func to restore the originals.
func shrinkBackoffForTest() func() {
	origInitial, origMax := initialBackoff, maxBackoff
	initialBackoff = time.Millisecond
	maxBackoff = 4 * time.Millisecond
	return func() {
		initialBackoff = origInitial
		maxBackoff = origMax
	}
}
