package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/persona-parley/internal/job"
	"github.com/vnmchuo/persona-parley/internal/store"
)

const maxBodyBytes = 1 << 20

type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

type ResultReader interface {
	Get(ctx context.Context, jobID string) (*job.Record, error)
}

// Handler serves job submission and result polling. It holds no job state
// of its own; everything lives in the queue and the result store.
type Handler struct {
	queue     Enqueuer
	results   ResultReader
	apiKeySet bool
	logger    *logrus.Logger
	tracer    trace.Tracer
	newID     func() string
}

func NewHandler(queue Enqueuer, results ResultReader, apiKeySet bool, logger *logrus.Logger, tracer trace.Tracer) *Handler {
	return &Handler{
		queue:     queue,
		results:   results,
		apiKeySet: apiKeySet,
		logger:    logger,
		tracer:    tracer,
		newID:     uuid.NewString,
	}
}

type personasRequest struct {
	Question     string `json:"question"`
	SystemPrompt string `json:"system_prompt"`
}

type suggestionsRequest struct {
	Question string `json:"question"`
	Prompt   string `json:"prompt"`
}

type debateRequest struct {
	SpeakerID     string                 `json:"speaker_id"`
	NewMessage    string                 `json:"new_message"`
	History       []job.ConversationTurn `json:"conversation_history"`
	Personas      []job.Persona          `json:"personas"`
	PersonasJobID string                 `json:"personas_job_id"`
}

func (h *Handler) HandlePersonas(w http.ResponseWriter, r *http.Request) {
	var req personasRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, r, &job.PersonasPayload{
		Question:     strings.TrimSpace(req.Question),
		SystemPrompt: req.SystemPrompt,
	})
}

func (h *Handler) HandleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.submit(w, r, &job.SuggestionsPayload{
		Question: strings.TrimSpace(req.Question),
		Prompt:   req.Prompt,
	})
}

func (h *Handler) HandleAskDebate(w http.ResponseWriter, r *http.Request) {
	var req debateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	personas := req.Personas
	if len(personas) == 0 && req.PersonasJobID != "" {
		var err error
		personas, err = h.loadPersonas(r.Context(), req.PersonasJobID)
		if err != nil {
			h.writeSubmitError(w, err)
			return
		}
	}
	if len(personas) == 0 {
		writeValidationError(w, job.NewValidationError("personas", "personas or personas_job_id is required"))
		return
	}
	personas, err := job.NormalizePersonas(personas)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}

	h.submit(w, r, &job.DebateTurnPayload{
		SpeakerID:  job.NormalizeID(req.SpeakerID),
		NewMessage: strings.TrimSpace(req.NewMessage),
		History:    req.History,
		Personas:   personas,
	})
}

// loadPersonas reads the panel produced by an earlier personas job.
func (h *Handler) loadPersonas(ctx context.Context, jobID string) ([]job.Persona, error) {
	rec, err := h.results.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, job.NewValidationError("personas_job_id", "personas job not found or not finished")
	}
	if err != nil {
		return nil, err
	}
	if rec.Kind != job.KindPersonas || rec.Status != job.StatusCompleted {
		return nil, job.NewValidationError("personas_job_id", "personas_job_id does not name a completed personas job")
	}
	var personas []job.Persona
	if err := json.Unmarshal(rec.Response, &personas); err != nil {
		return nil, job.NewValidationError("personas_job_id", "stored personas are unreadable")
	}
	return personas, nil
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, payload job.Payload) {
	ctx, span := h.tracer.Start(r.Context(), "jobs.submit")
	defer span.End()

	j, err := job.New(h.newID(), payload)
	if err != nil {
		h.writeSubmitError(w, err)
		return
	}
	span.SetAttributes(
		attribute.String("job_id", j.ID),
		attribute.String("kind", string(j.Kind())),
	)

	body, err := j.Encode()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if err := h.queue.Enqueue(ctx, body); err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.logger.WithError(err).WithFields(logrus.Fields{
			"job_id": j.ID,
			"kind":   j.Kind(),
		}).Error("Failed to enqueue job")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "job queue unavailable"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id": j.ID,
		"kind":   j.Kind(),
	}).Info("Job submitted")
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.ID})
}

func (h *Handler) HandleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	ctx, span := h.tracer.Start(r.Context(), "jobs.result")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", jobID))

	rec, err := h.results.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Result not found"})
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.logger.WithError(err).WithField("job_id", jobID).Error("Failed to read result")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "result store unavailable"})
		return
	}

	switch rec.Status {
	case job.StatusCompleted:
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":   rec.JobID,
			"kind":     rec.Kind,
			"status":   rec.Status,
			"response": rec.Response,
		})
	case job.StatusFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": rec.Error})
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Result not found"})
	}
}

func (h *Handler) HandleCheckAPIKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"api_key_set": h.apiKeySet})
}

func (h *Handler) writeSubmitError(w http.ResponseWriter, err error) {
	var validation *job.ValidationError
	if errors.As(err, &validation) {
		writeValidationError(w, validation)
		return
	}
	h.logger.WithError(err).Error("Failed to submit job")
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "result store unavailable"})
}

func writeValidationError(w http.ResponseWriter, err *job.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": err.Message,
		"field": err.Field,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
