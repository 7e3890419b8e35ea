package notify

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/vnmchuo/persona-parley/internal/job"
)

const CompletionSubject = "jobs.complete"

// Publisher is satisfied by *nats.Conn.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CompletionEvent announces that a job's terminal record is readable.
// Redelivered jobs may announce more than once.
type CompletionEvent struct {
	JobID       string        `json:"job_id"`
	Kind        job.Kind      `json:"kind"`
	Status      job.Status    `json:"status"`
	ErrorKind   job.ErrorKind `json:"error_kind,omitempty"`
	CompletedAt int64         `json:"completed_at"`
}

type Notifier struct {
	pub     Publisher
	subject string
	logger  *logrus.Logger
}

func New(pub Publisher, subject string, logger *logrus.Logger) *Notifier {
	if subject == "" {
		subject = CompletionSubject
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{pub: pub, subject: subject, logger: logger}
}

// JobFinished publishes a completion event for rec. Failures are logged;
// pollers still find the record in the result store.
func (n *Notifier) JobFinished(rec *job.Record) {
	log := n.logger.WithFields(logrus.Fields{
		"job_id": rec.JobID,
		"kind":   rec.Kind,
	})

	data, err := json.Marshal(CompletionEvent{
		JobID:       rec.JobID,
		Kind:        rec.Kind,
		Status:      rec.Status,
		ErrorKind:   rec.ErrorKind,
		CompletedAt: rec.UpdatedAt.Unix(),
	})
	if err != nil {
		log.WithError(err).Error("Failed to serialize completion event")
		return
	}

	if err := n.pub.Publish(n.subject, data); err != nil {
		log.WithError(err).Error("Failed to publish completion")
		return
	}
	log.Debug("Published completion")
}
