// Package job defines the asynchronous job model shared by the API, the
// queue and the worker: job kinds and their payloads, the wire message,
// result records and the error taxonomy.
package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindPersonas    Kind = "personas"
	KindSuggestions Kind = "suggestions"
	KindDebateTurn  Kind = "debate_turn"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPersonas, KindSuggestions, KindDebateTurn:
		return true
	}
	return false
}

// Payload is the kind-specific body of a job.
type Payload interface {
	Kind() Kind
	Validate() error
}

type PersonasPayload struct {
	Question     string `json:"question"`
	SystemPrompt string `json:"system_prompt"`
}

func (p *PersonasPayload) Kind() Kind { return KindPersonas }

func (p *PersonasPayload) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return NewValidationError("question", "question is required")
	}
	return nil
}

type SuggestionsPayload struct {
	Question string `json:"question"`
	Prompt   string `json:"prompt"`
}

func (p *SuggestionsPayload) Kind() Kind { return KindSuggestions }

func (p *SuggestionsPayload) Validate() error {
	if strings.TrimSpace(p.Question) == "" {
		return NewValidationError("question", "question is required")
	}
	return nil
}

type DebateTurnPayload struct {
	SpeakerID  string             `json:"speaker_id"`
	NewMessage string             `json:"new_message"`
	History    []ConversationTurn `json:"conversation_history"`
	Personas   []Persona          `json:"personas"`
}

func (p *DebateTurnPayload) Kind() Kind { return KindDebateTurn }

func (p *DebateTurnPayload) Validate() error {
	if strings.TrimSpace(p.SpeakerID) == "" {
		return NewValidationError("speaker_id", "speaker_id is required")
	}
	if len(p.History) == 0 && strings.TrimSpace(p.NewMessage) == "" {
		return NewValidationError("new_message", "new_message is required to open a debate")
	}
	if err := ValidatePersonas(p.Personas); err != nil {
		return err
	}
	if p.SpeakerID != AllPersonaID {
		if _, ok := FindPersona(p.Personas, p.SpeakerID); !ok {
			return NewValidationError("speaker_id", fmt.Sprintf("unknown speaker %q", p.SpeakerID))
		}
		return nil
	}
	if len(p.Speakers()) == 0 {
		return NewValidationError("personas", "no personas available for this debate")
	}
	return nil
}

// Speakers returns the personas that answer this turn, in order. The "all"
// pseudo-persona expands to every real persona.
func (p *DebateTurnPayload) Speakers() []Persona {
	if p.SpeakerID != AllPersonaID {
		if persona, ok := FindPersona(p.Personas, p.SpeakerID); ok {
			return []Persona{persona}
		}
		return nil
	}
	speakers := make([]Persona, 0, len(p.Personas))
	for _, persona := range p.Personas {
		if persona.ID == AllPersonaID {
			continue
		}
		speakers = append(speakers, persona)
	}
	return speakers
}

// Job is a unit of asynchronous work. It exists only as a queue message
// until a worker writes its terminal Record.
type Job struct {
	ID         string
	Payload    Payload
	EnqueuedAt time.Time
}

// New builds a validated job. The id is chosen by the submitter.
func New(id string, payload Payload) (*Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("job_id", "job id is required")
	}
	if payload == nil {
		return nil, NewValidationError("payload", "payload is required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &Job{ID: id, Payload: payload, EnqueuedAt: time.Now().UTC()}, nil
}

func (j *Job) Kind() Kind {
	if j.Payload == nil {
		return ""
	}
	return j.Payload.Kind()
}

// message is the queue wire format.
type message struct {
	JobID      string          `json:"job_id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Encode serializes the job into its queue message.
func (j *Job) Encode() ([]byte, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", j.Kind(), err)
	}
	return json.Marshal(message{
		JobID:      j.ID,
		Kind:       j.Kind(),
		Payload:    payload,
		EnqueuedAt: j.EnqueuedAt,
	})
}

// Decode parses and validates a queue message.
func Decode(body []byte) (*Job, error) {
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, NewValidationError("message", fmt.Sprintf("malformed job message: %v", err))
	}
	if msg.JobID == "" {
		return nil, NewValidationError("job_id", "job id is required")
	}

	var payload Payload
	switch msg.Kind {
	case KindPersonas:
		payload = &PersonasPayload{}
	case KindSuggestions:
		payload = &SuggestionsPayload{}
	case KindDebateTurn:
		payload = &DebateTurnPayload{}
	default:
		return nil, NewValidationError("kind", fmt.Sprintf("unknown job kind %q", msg.Kind))
	}
	if err := json.Unmarshal(msg.Payload, payload); err != nil {
		return nil, NewValidationError("payload", fmt.Sprintf("malformed %s payload: %v", msg.Kind, err))
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return &Job{ID: msg.JobID, Payload: payload, EnqueuedAt: msg.EnqueuedAt}, nil
}

// PeekID extracts the job id and kind from a message that may not decode
// as a whole.
func PeekID(body []byte) (string, Kind) {
	var head struct {
		JobID string `json:"job_id"`
		Kind  Kind   `json:"kind"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return "", ""
	}
	return head.JobID, head.Kind
}
