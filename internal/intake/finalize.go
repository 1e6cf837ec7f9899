package intake

import (
	"errors"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// SuccessMessage is the message of every successful run.
const SuccessMessage = "Message processed successfully"

// Finalize builds the answer for the trigger caller. The success shape is
// the same whatever the action branch did; only the timestamp varies.
func Finalize(res *Result, err error, now time.Time) (int, models.WebhookResult) {
	ts := now.UTC().Format(time.RFC3339)
	if err != nil {
		var se *StepError
		if !errors.As(err, &se) {
			return http.StatusInternalServerError, models.WebhookResult{
				Status:    models.WebhookStatusError,
				Code:      "internal_error",
				Message:   "Internal error",
				Timestamp: ts,
			}
		}
		return se.HTTPStatus(), models.WebhookResult{
			Status:    models.WebhookStatusError,
			Code:      se.Code,
			Message:   codeMessage[se.Code],
			Timestamp: ts,
		}
	}
	if res != nil && res.Outcome == OutcomeIgnored {
		return http.StatusOK, models.WebhookResult{
			Status:    models.WebhookStatusIgnored,
			Message:   res.Reason,
			Timestamp: ts,
		}
	}
	return http.StatusOK, models.WebhookResult{
		Status:    models.WebhookStatusSuccess,
		Message:   SuccessMessage,
		Timestamp: ts,
	}
}
