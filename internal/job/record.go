package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is what the Result Store holds for a job id.
type Record struct {
	JobID     string          `json:"job_id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Attempts  int             `json:"attempts"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func CompletedRecord(jobID string, kind Kind, response any, attempts int) (*Record, error) {
	body, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", kind, err)
	}
	return &Record{
		JobID:     jobID,
		Kind:      kind,
		Status:    StatusCompleted,
		Response:  body,
		Attempts:  attempts,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func FailedRecord(jobID string, kind Kind, cause error, attempts int) *Record {
	msg := "job failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Record{
		JobID:     jobID,
		Kind:      kind,
		Status:    StatusFailed,
		Error:     msg,
		ErrorKind: ClassifyError(cause),
		Attempts:  attempts,
		UpdatedAt: time.Now().UTC(),
	}
}

// Validate checks that a record is terminal and carries exactly one of
// response and error.
func (r *Record) Validate() error {
	if r.JobID == "" {
		return errors.New("record has no job id")
	}
	switch r.Status {
	case StatusCompleted:
		if len(r.Response) == 0 || r.Error != "" {
			return fmt.Errorf("completed record %s must carry a response and no error", r.JobID)
		}
	case StatusFailed:
		if r.Error == "" || len(r.Response) != 0 {
			return fmt.Errorf("failed record %s must carry an error and no response", r.JobID)
		}
	default:
		return fmt.Errorf("record %s has non-terminal status %q", r.JobID, r.Status)
	}
	return nil
}
