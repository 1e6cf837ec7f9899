package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/store"
)

type fakeOutboxRepo struct {
	store.OutboxRepo
	calls int
	err   error
}

func (f *fakeOutboxRepo) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	f.calls++
	return 2, f.err
}

type fakeJobRepo struct {
	store.JobRepo
	calls int
	err   error
}

func (f *fakeJobRepo) RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	f.calls++
	return 1, f.err
}

func TestOutboxRecovery(t *testing.T) {
	repo := &fakeOutboxRepo{}
	sender := store.NewOutboxSender(repo, func(ctx context.Context, msg store.OutboxMessage) error { return nil }, time.Second)

	if err := OutboxRecovery(sender).RecoverState(context.Background()); err != nil {
		t.Fatalf("OutboxRecovery failed: %v", err)
	}
	if repo.calls != 1 {
		t.Errorf("Expected 1 requeue call, got %d", repo.calls)
	}
}

func TestOutboxRecovery_Error(t *testing.T) {
	repo := &fakeOutboxRepo{err: errors.New("db down")}
	sender := store.NewOutboxSender(repo, nil, time.Second)

	if err := OutboxRecovery(sender).RecoverState(context.Background()); err == nil {
		t.Fatal("Expected error from failing repo")
	}
}

func TestJobRecovery(t *testing.T) {
	repo := &fakeJobRepo{}
	runner := store.NewJobRunner(repo, time.Second)

	m := NewManager()
	m.Register("jobs", JobRecovery(runner))
	if err := m.RecoverAll(context.Background()); err != nil {
		t.Fatalf("RecoverAll failed: %v", err)
	}
	if repo.calls != 1 {
		t.Errorf("Expected 1 requeue call, got %d", repo.calls)
	}
}
