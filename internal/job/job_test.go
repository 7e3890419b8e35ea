package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var panel = []Persona{
	AllPersona,
	{ID: "economist", Name: "Dana Economist", Description: "Markets first."},
	{ID: "ethicist", Name: "Sam Ethicist", Description: "Rights first."},
}

func TestNew_ValidatesPayload(t *testing.T) {
	_, err := New("job-1", &PersonasPayload{Question: "   "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "question", verr.Field)

	_, err = New("", &PersonasPayload{Question: "Should AI be regulated?"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "job_id", verr.Field)
}

func TestEncodeDecode_DebateTurn(t *testing.T) {
	j, err := New("job-2", &DebateTurnPayload{
		SpeakerID:  "ethicist",
		NewMessage: "What about jobs?",
		History:    []ConversationTurn{{Speaker: ModeratorLabel, Content: "Should AI be regulated?"}},
		Personas:   panel,
	})
	require.NoError(t, err)

	body, err := j.Encode()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, "job-2", wire["job_id"])
	assert.Equal(t, "debate_turn", wire["kind"])
	assert.Contains(t, wire, "payload")

	decoded, err := Decode(body)
	require.NoError(t, err)
	assert.Equal(t, KindDebateTurn, decoded.Kind())
	payload := decoded.Payload.(*DebateTurnPayload)
	assert.Equal(t, "ethicist", payload.SpeakerID)
	assert.Len(t, payload.History, 1)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"not json", `{nope`, "message"},
		{"missing id", `{"kind":"personas","payload":{"question":"q"}}`, "job_id"},
		{"unknown kind", `{"job_id":"j","kind":"horoscope","payload":{}}`, "kind"},
		{"bad payload", `{"job_id":"j","kind":"personas","payload":[1,2]}`, "payload"},
		{"blank question", `{"job_id":"j","kind":"suggestions","payload":{"question":""}}`, "question"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestPeekID(t *testing.T) {
	id, kind := PeekID([]byte(`{"job_id":"j-9","kind":"personas","payload":"garbage"}`))
	assert.Equal(t, "j-9", id)
	assert.Equal(t, KindPersonas, kind)

	id, _ = PeekID([]byte(`not json`))
	assert.Empty(t, id)
}

func TestDebateTurnPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload DebateTurnPayload
		field   string
	}{
		{"missing speaker", DebateTurnPayload{NewMessage: "hi", Personas: panel}, "speaker_id"},
		{"unknown speaker", DebateTurnPayload{SpeakerID: "pirate", NewMessage: "hi", Personas: panel}, "speaker_id"},
		{"empty opening", DebateTurnPayload{SpeakerID: "ethicist", Personas: panel}, "new_message"},
		{"all without panel", DebateTurnPayload{SpeakerID: AllPersonaID, NewMessage: "hi", Personas: []Persona{AllPersona}}, "personas"},
		{"unnormalized persona id", DebateTurnPayload{SpeakerID: "Dr_Smith", NewMessage: "hi", Personas: []Persona{{ID: "Dr_Smith", Name: "Dr Smith"}}}, "personas"},
		{"nameless persona", DebateTurnPayload{SpeakerID: "ethicist", NewMessage: "hi", Personas: []Persona{{ID: "ethicist"}}}, "personas"},
		{"duplicate persona", DebateTurnPayload{SpeakerID: "ethicist", NewMessage: "hi", Personas: append(panel, panel[2])}, "personas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	continuing := DebateTurnPayload{
		SpeakerID: "economist",
		History:   []ConversationTurn{{Speaker: ModeratorLabel, Content: "Go on."}},
		Personas:  panel,
	}
	assert.NoError(t, continuing.Validate())
}

func TestDebateTurnPayload_SpeakersExpandsAll(t *testing.T) {
	p := DebateTurnPayload{SpeakerID: AllPersonaID, Personas: panel}
	speakers := p.Speakers()
	require.Len(t, speakers, 2)
	assert.Equal(t, "economist", speakers[0].ID)
	assert.Equal(t, "ethicist", speakers[1].ID)
}

func TestConversationTurn_AcceptsPersonaKey(t *testing.T) {
	var turns []ConversationTurn
	require.NoError(t, json.Unmarshal([]byte(`[
		{"persona":"Moderator","content":"Opening"},
		{"speaker":"Dana Economist","content":"Reply"}
	]`), &turns))

	assert.Equal(t, "Moderator", turns[0].Speaker)
	assert.Equal(t, "Dana Economist", turns[1].Speaker)
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "dr-jane-smith", NormalizeID("  Dr. Jane   Smith "))
	assert.Equal(t, "ai-ethicist-2", NormalizeID("AI_Ethicist #2"))
	assert.Empty(t, NormalizeID("!!!"))
}

type temporary struct{ transient bool }

func (t temporary) Error() string   { return "provider said no" }
func (t temporary) Temporary() bool { return t.transient }

func TestNormalizePersonas(t *testing.T) {
	got, err := NormalizePersonas([]Persona{
		{ID: "all", Name: "whatever"},
		{ID: "AI_Ethicist #2", Name: "  Sam  ", Description: " careful "},
		{Name: "Dana Economist"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Persona{
		AllPersona,
		{ID: "ai-ethicist-2", Name: "Sam", Description: "careful"},
		{ID: "dana-economist", Name: "Dana Economist"},
	}, got)

	rejects := map[string][]Persona{
		"empty id":     {{ID: "!!!", Name: ""}},
		"blank name":   {{ID: "sam", Name: " "}},
		"duplicate id": {{ID: "sam", Name: "Sam"}, {ID: "SAM", Name: "Sam Two"}},
	}
	for name, personas := range rejects {
		t.Run(name, func(t *testing.T) {
			_, err := NormalizePersonas(personas)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "personas", verr.Field)
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorKindInvalidJob, ClassifyError(NewValidationError("x", "bad")))
	assert.Equal(t, ErrorKindMalformedOutput, ClassifyError(&MalformedOutputError{Kind: KindPersonas, Err: errors.New("eof")}))
	assert.Equal(t, ErrorKindProviderTransient, ClassifyError(fmt.Errorf("call: %w", temporary{transient: true})))
	assert.Equal(t, ErrorKindProviderPermanent, ClassifyError(temporary{transient: false}))
	assert.Equal(t, ErrorKindProviderPermanent, ClassifyError(errors.New("opaque")))
	assert.Equal(t, ErrorKindProviderTransient, ClassifyError(fmt.Errorf("retry: %w", context.DeadlineExceeded)))
}

func TestRecordConstructors(t *testing.T) {
	done, err := CompletedRecord("j", KindSuggestions, []string{"a", "b"}, 1)
	require.NoError(t, err)
	assert.NoError(t, done.Validate())
	assert.JSONEq(t, `["a","b"]`, string(done.Response))

	failed := FailedRecord("j", KindSuggestions, temporary{transient: true}, 2)
	assert.NoError(t, failed.Validate())
	assert.Equal(t, ErrorKindProviderTransient, failed.ErrorKind)
	assert.Equal(t, 2, failed.Attempts)

	both := *done
	both.Error = "also failed"
	assert.Error(t, both.Validate())

	pending := Record{JobID: "j", Status: StatusPending}
	assert.Error(t, pending.Validate())
}
