package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/messaging"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Job kinds run by the JobRunner.
const (
	// JobKindRetry re-sends a proposal request that failed inside the pipeline.
	JobKindRetry = "proposal_generate"
	// JobKindFollowUp sends one follow-up reminder after a proposal.
	JobKindFollowUp = "proposal_follow_up"
)

// EnqueueRetry stores req as a durable retry job.
func EnqueueRetry(ctx context.Context, jobs store.JobRepo, req models.ProposalRequest, dedupeKey string) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proposal request: %w", err)
	}
	id, err := jobs.EnqueueJob(ctx, JobKindRetry, time.Now(), string(payload), dedupeKey)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue proposal retry: %w", err)
	}
	return id, nil
}

// NewRetryJobHandler replays queued proposal requests through r.
func NewRetryJobHandler(r Requester) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var req models.ProposalRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			return fmt.Errorf("invalid proposal retry payload: %w", err)
		}
		slog.Debug("proposal.RetryJob: replaying request", "phone", req.Phone)
		return r.Request(ctx, req)
	}
}

// NewFollowUpJobHandler sends scheduled follow-up texts through sender.
func NewFollowUpJobHandler(sender messaging.Sender) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p followUpPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid follow-up payload: %w", err)
		}
		slog.Debug("proposal.FollowUpJob: sending follow-up", "proposal_id", p.ProposalID, "phone", p.Phone)
		return sender.SendText(ctx, p.Phone, p.Text)
	}
}
