package recovery

import (
	"context"
	"fmt"

	"github.com/BTreeMap/IntakePipe/internal/store"
)

// OutboxRecovery requeues replies left in sending state by a crash.
func OutboxRecovery(sender *store.OutboxSender) Recoverable {
	return RecoverFunc(func(ctx context.Context) error {
		if err := sender.RecoverStaleMessages(ctx); err != nil {
			return fmt.Errorf("failed to recover outbox: %w", err)
		}
		return nil
	})
}

// JobRecovery requeues proposal jobs left in running state by a crash.
func JobRecovery(runner *store.JobRunner) Recoverable {
	return RecoverFunc(func(ctx context.Context) error {
		if err := runner.RecoverStaleJobs(ctx); err != nil {
			return fmt.Errorf("failed to recover jobs: %w", err)
		}
		return nil
	})
}
