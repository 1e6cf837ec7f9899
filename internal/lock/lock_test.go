package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "5511")
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most 1 holder, saw %d", maxInside)
	}
	if l.size() != 0 {
		t.Errorf("expected idle keys to be dropped, %d remain", l.size())
	}
}

func TestLocalLocker_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocalLocker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("Lock a failed: %v", err)
	}
	defer unlockA()

	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock b should not block on a: %v", err)
	}
	unlockB()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got %v", err)
	}
	var lerr *Error
	if !errors.As(err, &lerr) || lerr.Key != "k" {
		t.Errorf("expected *Error with key k, got %v", err)
	}

	unlock()
	unlock() // second call is a no-op
	if l.size() != 0 {
		t.Errorf("expected no tracked keys, got %d", l.size())
	}
}

func TestRedisLocker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("env REDIS_URL not set")
	}
	l, err := DialRedisLocker(context.Background(), url, WithKeyPrefix("intake:test:"), WithTTL(2*time.Second))
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer l.Close()

	unlock, err := l.Lock(context.Background(), "5511")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "5511"); err == nil {
		t.Fatal("expected second Lock to fail while held")
	}
	unlock()

	unlock2, err := l.Lock(context.Background(), "5511")
	if err != nil {
		t.Fatalf("Lock after unlock failed: %v", err)
	}
	unlock2()
}

func TestNewRedisLocker_NonPositiveDurationsUseDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	l := NewRedisLocker(client, WithTTL(0), WithRetryDelay(-time.Second))
	if l.opts.TTL != DefaultLockTTL {
		t.Errorf("expected TTL %v, got %v", DefaultLockTTL, l.opts.TTL)
	}
	if l.opts.RetryDelay != DefaultRetryDelay {
		t.Errorf("expected retry delay %v, got %v", DefaultRetryDelay, l.opts.RetryDelay)
	}
}
