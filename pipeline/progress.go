package pipeline

import (
	"time"

	"voynich/models"
)

// EstimateRemaining extrapolates the average time per completed chunk over
// the chunks still outstanding. ok is false until a chunk has completed.
func EstimateRemaining(startedAt, now time.Time, completed, total int) (remaining time.Duration, ok bool) {
	if completed <= 0 || total < completed || startedAt.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	perChunk := elapsed / time.Duration(completed)
	return perChunk * time.Duration(total-completed), true
}

// StatusReport is a job plus its derived ETA.
type StatusReport struct {
	models.ConversionJob
	ETASeconds *float64 `json:"etaSeconds,omitempty"`
}

func newStatusReport(job *models.ConversionJob, now time.Time) *StatusReport {
	report := &StatusReport{ConversionJob: *job}
	if job.Status != models.StatusProcessing || job.StartedAt == nil {
		return report
	}
	if eta, ok := EstimateRemaining(*job.StartedAt, now, job.ChunksCompleted, job.ChunksTotal); ok {
		secs := eta.Seconds()
		report.ETASeconds = &secs
	}
	return report
}
