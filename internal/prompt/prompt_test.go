package prompt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnmchuo/persona-parley/internal/job"
	"github.com/vnmchuo/persona-parley/internal/provider"
)

var settings = Settings{Model: "gpt-4", Temperature: 0.7}

var panel = []job.Persona{
	job.AllPersona,
	{ID: "dana-economist", Name: "Dana (Economist)", Description: "Worries about growth."},
	{ID: "sam-ethicist", Name: "Sam (Ethicist)", Description: "Worries about harm."},
}

func TestPersonas(t *testing.T) {
	req := Personas("job-1", &job.PersonasPayload{Question: "Should AI be regulated?"}, settings)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, DefaultPersonasSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "Generate 4 relevant personas for this debate question: Should AI be regulated?", req.Messages[1].Content)
	assert.Equal(t, PersonasMaxTokens, req.MaxTokens)
	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, 0.7, req.Temperature)
	assert.Equal(t, "job-1", req.JobID)

	custom := Personas("job-2", &job.PersonasPayload{Question: "q", SystemPrompt: "custom"}, settings)
	assert.Equal(t, "custom", custom.Messages[0].Content)
}

func TestSuggestions(t *testing.T) {
	req := Suggestions("job-1", &job.SuggestionsPayload{Question: "space travel", Prompt: "suggest"}, settings)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, "suggest", req.Messages[0].Content)
	assert.Equal(t, "Topic: space travel", req.Messages[1].Content)
	assert.Equal(t, SuggestionsMaxTokens, req.MaxTokens)
}

func TestDebateTurn_FirstPath(t *testing.T) {
	p := &job.DebateTurnPayload{
		SpeakerID:  "dana-economist",
		NewMessage: "Should AI be regulated?",
		Personas:   panel,
	}
	assert.Equal(t, PathFirst, PathFor(p.History))

	req := DebateTurn("job-1", p, panel[1], nil, settings)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "You are Dana (Economist).")
	assert.Contains(t, req.Messages[0].Content, "Sam (Ethicist)")
	assert.NotContains(t, req.Messages[0].Content, "All Personas")
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "Moderator: Should AI be regulated?"}, req.Messages[1])
	assert.Equal(t, DebateMaxTokens, req.MaxTokens)
}

func TestDebateTurn_SubsequentPath(t *testing.T) {
	p := &job.DebateTurnPayload{
		SpeakerID:  "dana-economist",
		NewMessage: "What about jobs?",
		Personas:   panel,
		History: []job.ConversationTurn{
			{Speaker: "Moderator", Content: "Should AI be regulated?"},
			{Speaker: "Dana (Economist)", Content: "Lightly."},
			{Speaker: "Sam (Ethicist)", Content: "Strictly."},
		},
	}
	assert.Equal(t, PathSubsequent, PathFor(p.History))

	req := DebateTurn("job-1", p, panel[1], nil, settings)

	require.Len(t, req.Messages, 5)
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "Moderator: Should AI be regulated?"}, req.Messages[1])
	assert.Equal(t, provider.Message{Role: provider.RoleAssistant, Content: "Lightly."}, req.Messages[2])
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "Sam (Ethicist): Strictly."}, req.Messages[3])
	assert.Equal(t, provider.Message{Role: provider.RoleUser, Content: "Moderator: What about jobs?"}, req.Messages[4])
}

func TestDebateTurn_ContinueWithoutNewMessage(t *testing.T) {
	p := &job.DebateTurnPayload{
		SpeakerID: "sam-ethicist",
		Personas:  panel,
		History:   []job.ConversationTurn{{Speaker: "Moderator", Content: "Go on."}},
	}

	req := DebateTurn("job-1", p, panel[2], nil, settings)

	require.Len(t, req.Messages, 3)
	assert.Equal(t, continueInstruction, req.Messages[2].Content)
}

func TestDebateTurn_EarlierRepliesFollowModerator(t *testing.T) {
	p := &job.DebateTurnPayload{
		SpeakerID:  job.AllPersonaID,
		NewMessage: "Opening question",
		Personas:   panel,
	}
	earlier := []job.DebateReply{{Persona: panel[1], Response: "Growth first."}}

	req := DebateTurn("job-1", p, panel[2], earlier, settings)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "Moderator: Opening question", req.Messages[1].Content)
	assert.Equal(t, "Dana (Economist): Growth first.", req.Messages[2].Content)
	assert.Equal(t, continueInstruction, req.Messages[3].Content)
	assert.Empty(t, p.History, "history must not be mutated")
}

func TestDebateTurn_AllSpeakersOpeningUseSubsequentAfterFirst(t *testing.T) {
	p := &job.DebateTurnPayload{
		SpeakerID:  job.AllPersonaID,
		NewMessage: "Opening question",
		Personas:   panel,
	}
	speakers := p.Speakers()
	require.Len(t, speakers, 2)

	assert.Equal(t, PathFirst, TurnPath(p, nil))
	first := DebateTurn("job-1", p, speakers[0], nil, settings)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, "Moderator: Opening question", first.Messages[1].Content)

	earlier := []job.DebateReply{{Persona: speakers[0], Response: "Growth first."}}
	assert.Equal(t, PathSubsequent, TurnPath(p, earlier))
	second := DebateTurn("job-1", p, speakers[1], earlier, settings)
	assert.Equal(t, []provider.Message{
		second.Messages[0],
		{Role: provider.RoleUser, Content: "Moderator: Opening question"},
		{Role: provider.RoleUser, Content: "Dana (Economist): Growth first."},
		{Role: provider.RoleUser, Content: continueInstruction},
	}, second.Messages)
	assert.Contains(t, second.Messages[0].Content, "You are Sam (Ethicist).")
}

func TestParsePersonas(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "bare array",
			content: `[{"id":"dana","name":"Dana","description":"d"},{"id":"sam","name":"Sam","description":"s"}]`,
			want:    []string{"dana", "sam"},
		},
		{
			name:    "fenced",
			content: "```json\n[{\"name\":\"Dana Lee\",\"description\":\"d\"}]\n```",
			want:    []string{"dana-lee"},
		},
		{
			name:    "wrapped",
			content: `{"personas":[{"id":"Tech Optimist","name":"Ada","description":"x"}]}`,
			want:    []string{"tech-optimist"},
		},
		{
			name:    "prose around array",
			content: "Here you go:\n[{\"id\":\"ada\",\"name\":\"Ada\"}]\nEnjoy!",
			want:    []string{"ada"},
		},
		{
			name:    "drops all, blanks and duplicates",
			content: `[{"id":"all","name":"All"},{"id":"ada","name":"Ada"},{"id":"ada","name":"Ada again"},{"id":"x","name":" "}]`,
			want:    []string{"ada"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePersonas(tt.content)
			require.NoError(t, err)
			ids := make([]string, len(got))
			for i, p := range got {
				ids[i] = p.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestParsePersonas_Malformed(t *testing.T) {
	for _, content := range []string{"", "I cannot help with that.", `{"people":[]}`, `[]`, `[{"name":""}]`} {
		_, err := ParsePersonas(content)
		var malformed *job.MalformedOutputError
		require.True(t, errors.As(err, &malformed), "content %q", content)
		assert.Equal(t, job.KindPersonas, malformed.Kind)
		assert.Equal(t, job.ErrorKindMalformedOutput, job.ClassifyError(err))
	}
}

func TestParseSuggestions(t *testing.T) {
	got, err := ParseSuggestions("```\n[\"Is Mars worth it?\", \" \", \"Is Mars worth it?\", \"Who pays?\"]\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"Is Mars worth it?", "Who pays?"}, got)

	got, err = ParseSuggestions(`{"questions":["One?"]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"One?"}, got)

	_, err = ParseSuggestions(`[1, 2]`)
	var malformed *job.MalformedOutputError
	assert.True(t, errors.As(err, &malformed))
}
