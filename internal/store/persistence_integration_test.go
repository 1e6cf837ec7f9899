package store

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// TestConversationSurvivesRestart closes and reopens the SQLite file and
// checks the conversation and its context are intact.
func TestConversationSurvivesRestart(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "restart_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)
	dbPath := filepath.Join(tempDir, "test.db")
	ctx := context.Background()

	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 1) failed: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	c := models.Conversation{
		ID: "c8a4f6de-6d0b-4a57-9b6f-0a4c1ad0a2b1", Phone: "5511988887777", Name: "Ana",
		Status: models.ConversationStatusActive, Context: `{"stage":"greeting","message_count":1}`,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s1.InsertConversation(ctx, c); err != nil {
		t.Fatalf("InsertConversation failed: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 2) failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetConversation(ctx, c.Phone)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil {
		t.Fatal("conversation lost across restart")
	}
	if got.ID != c.ID || got.Name != "Ana" || got.Context != c.Context {
		t.Errorf("conversation mismatch after restart: %+v", got)
	}
}

// TestJobRunnerRestartRecovery simulates a crash while a job is running and
// verifies the next process picks it up exactly once.
func TestJobRunnerRestartRecovery(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "restart_test_")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)
	dbPath := filepath.Join(tempDir, "test.db")
	ctx := context.Background()

	// Phase 1: claim a job and "crash" before completing it.
	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 1) failed: %v", err)
	}
	jobID, err := s1.EnqueueJob(ctx, "restart_test", time.Now().Add(-time.Second), `{"test":"restart"}`, "restart-dedup")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	claimed, err := s1.ClaimDueJobs(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("ClaimDueJobs failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected 1 claimed job, got %d", len(claimed))
	}
	// Backdate the lock so recovery treats it as stale.
	if _, err := s1.db.Exec(`UPDATE jobs SET locked_at = ? WHERE id = ?`, time.Now().Add(-time.Hour), jobID); err != nil {
		t.Fatalf("force stale lock failed: %v", err)
	}
	s1.Close()

	// Phase 2: reopen, recover, run.
	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore (phase 2) failed: %v", err)
	}
	defer s2.Close()

	var executed int32
	runner := NewJobRunner(s2, 50*time.Millisecond)
	runner.RegisterHandler("restart_test", func(ctx context.Context, payload string) error {
		atomic.AddInt32(&executed, 1)
		return nil
	})
	if err := runner.RecoverStaleJobs(ctx); err != nil {
		t.Fatalf("RecoverStaleJobs failed: %v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	go runner.Run(runCtx)
	<-runCtx.Done()

	if n := atomic.LoadInt32(&executed); n != 1 {
		t.Errorf("Expected exactly 1 execution after restart, got %d", n)
	}
	job, _ := s2.GetJob(ctx, jobID)
	if job == nil || job.Status != JobStatusDone {
		t.Errorf("Expected job done after restart, got %+v", job)
	}
}
