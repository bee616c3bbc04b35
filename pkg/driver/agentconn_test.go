package driver

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestShouldInvalidateMatchesCodeAndSubstring(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{status.Error(codes.Unavailable, "transport: connection error"), true},
		{status.Error(codes.Unknown, "broken pipe"), true},
		{status.Error(codes.Internal, "read: connection reset by peer"), true},
		{status.Error(codes.Unavailable, "context deadline exceeded"), false},
		{status.Error(codes.InvalidArgument, "transport is down"), false},
		{status.Error(codes.NotFound, "no such volume"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := shouldInvalidate(c.err); got != c.want {
			t.Errorf("shouldInvalidate(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestAgentConnCacheDialsOnceAndReuses(t *testing.T) {
	dials := 0
	fake := &fakeAgentClient{}
	cache := &agentConnCache{dial: func(ctx context.Context) (AgentClient, error) {
		dials++
		return fake, nil
	}}

	for i := 0; i < 5; i++ {
		client, err := cache.get(context.Background())
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if client != fake {
			t.Fatal("expected the cached fake client back")
		}
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
}

func TestAgentConnCacheRedialsAfterInvalidation(t *testing.T) {
	dials := 0
	cache := &agentConnCache{dial: func(ctx context.Context) (AgentClient, error) {
		dials++
		return &fakeAgentClient{}, nil
	}}

	first, err := cache.get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	cache.invalidateIfBroken(first, status.Error(codes.Unavailable, "transport is closing"))

	second, err := cache.get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second == first {
		t.Fatal("expected a fresh client after invalidation")
	}
	if dials != 2 {
		t.Fatalf("dials = %d, want 2", dials)
	}
}

func TestAgentConnCacheInvalidateIgnoresStaleClient(t *testing.T) {
	cache := &agentConnCache{dial: func(ctx context.Context) (AgentClient, error) {
		return &fakeAgentClient{}, nil
	}}

	current, err := cache.get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	stale := &fakeAgentClient{}
	cache.invalidateIfBroken(stale, status.Error(codes.Unavailable, "transport failure"))

	again, err := cache.get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again != current {
		t.Fatal("invalidating a stale client should not evict the current one")
	}
}

func TestAgentConnCacheInvalidateIgnoresNonTransportError(t *testing.T) {
	cache := &agentConnCache{dial: func(ctx context.Context) (AgentClient, error) {
		return &fakeAgentClient{}, nil
	}}
	current, _ := cache.get(context.Background())
	cache.invalidateIfBroken(current, status.Error(codes.InvalidArgument, "bad request"))

	again, _ := cache.get(context.Background())
	if again != current {
		t.Fatal("a request-level error should not evict the cached channel")
	}
}

func TestAgentConnCacheGetPropagatesDialError(t *testing.T) {
	wantErr := errors.New("dial failed")
	cache := &agentConnCache{dial: func(ctx context.Context) (AgentClient, error) {
		return nil, wantErr
	}}
	_, err := cache.get(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
