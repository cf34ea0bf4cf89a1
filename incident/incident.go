package incident

import (
	"time"

	"github.com/xraph/bpmcore/id"
	"github.com/xraph/bpmcore/job"
)

// Incident is a job that failed terminally.
type Incident struct {
	JobID       id.JobID       `json:"job_id"`
	JobName     string         `json:"job_name"`
	ExecutionID id.ExecutionID `json:"execution_id,omitempty"`
	InstanceID  id.ExecutionID `json:"instance_id,omitempty"`
	Payload     []byte         `json:"payload,omitempty"`
	Error       string         `json:"error"`
	LockOwner   id.NodeID      `json:"lock_owner,omitempty"`
	FailedAt    time.Time      `json:"failed_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// FromJob builds the incident view of a failed job.
func FromJob(j *job.Job) *Incident {
	inc := &Incident{
		JobID:       j.ID,
		JobName:     j.Name,
		ExecutionID: j.ExecutionID,
		InstanceID:  j.InstanceID,
		Payload:     j.Payload,
		Error:       j.LastError,
		LockOwner:   j.LockOwner,
		CreatedAt:   j.CreatedAt,
	}
	if j.FailedAt != nil {
		inc.FailedAt = *j.FailedAt
	}
	return inc
}
