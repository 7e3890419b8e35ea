// Package prompt turns job payloads into provider requests and parses the
// structured answers that come back.
package prompt

import (
	"fmt"
	"strings"

	"github.com/vnmchuo/persona-parley/internal/job"
	"github.com/vnmchuo/persona-parley/internal/provider"
)

const (
	PersonasMaxTokens    = 500
	SuggestionsMaxTokens = 500
	DebateMaxTokens      = 1000

	PersonaCount = 4
)

const DefaultPersonasSystemPrompt = `You create panels of debaters for a moderated discussion.
Given a debate question, invent distinct personas with clearly different viewpoints.
Respond with only a JSON array. Each element must be an object with "id", "name" and "description" fields.
The id is a short lowercase-hyphenated token, the name is a person's name with a role, and the description summarizes their stance in one sentence.`

const DefaultSuggestionsPrompt = `You help people start interesting debates.
Given a topic, suggest 3 thought-provoking debate questions about it.
Respond with only a JSON array of strings.`

const continueInstruction = "Moderator: Continue the debate. Respond to the points raised so far."

// Settings are the model parameters shared by every kind.
type Settings struct {
	Model       string
	Temperature float64
}

func (s Settings) request(jobID string, maxTokens int, messages []provider.Message) *provider.Request {
	return &provider.Request{
		Model:       s.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: s.Temperature,
		JobID:       jobID,
	}
}

func Personas(jobID string, p *job.PersonasPayload, s Settings) *provider.Request {
	system := p.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultPersonasSystemPrompt
	}
	return s.request(jobID, PersonasMaxTokens, []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: fmt.Sprintf("Generate %d relevant personas for this debate question: %s", PersonaCount, p.Question)},
	})
}

func Suggestions(jobID string, p *job.SuggestionsPayload, s Settings) *provider.Request {
	system := p.Prompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSuggestionsPrompt
	}
	return s.request(jobID, SuggestionsMaxTokens, []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: "Topic: " + p.Question},
	})
}

// Path is the shape of a debate prompt.
type Path string

const (
	// PathFirst opens a debate: the speaker only sees the moderator's message.
	PathFirst Path = "first"
	// PathSubsequent replays the transcript before the new message.
	PathSubsequent Path = "subsequent"
)

func PathFor(history []job.ConversationTurn) Path {
	if len(history) == 0 {
		return PathFirst
	}
	return PathSubsequent
}

// TurnPath reports the path DebateTurn takes for a speaker that follows
// earlier replies of the same turn. With speaker "all" and an empty history
// only the first speaker opens the debate; everyone after it sees the
// moderator's message and the replies before theirs as a transcript.
func TurnPath(p *job.DebateTurnPayload, earlier []job.DebateReply) Path {
	history, _ := turnHistory(p, earlier)
	return PathFor(history)
}

// turnHistory folds the moderator's message and earlier replies into the
// transcript. The returned message is empty once it has been folded in.
func turnHistory(p *job.DebateTurnPayload, earlier []job.DebateReply) ([]job.ConversationTurn, string) {
	newMessage := strings.TrimSpace(p.NewMessage)
	if len(earlier) == 0 {
		return p.History, newMessage
	}
	history := append([]job.ConversationTurn(nil), p.History...)
	if newMessage != "" {
		history = append(history, job.ConversationTurn{Speaker: job.ModeratorLabel, Content: newMessage})
		newMessage = ""
	}
	for _, r := range earlier {
		history = append(history, job.ConversationTurn{Speaker: r.Persona.Name, Content: r.Response})
	}
	return history, newMessage
}

// DebateTurn builds the prompt for speaker. earlier holds replies already
// produced in this same turn by other speakers; they are placed after the
// moderator's message so later speakers can react to them.
func DebateTurn(jobID string, p *job.DebateTurnPayload, speaker job.Persona, earlier []job.DebateReply, s Settings) *provider.Request {
	history, newMessage := turnHistory(p, earlier)

	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: debateSystemPrompt(speaker, p.Personas)},
	}

	if PathFor(history) == PathFirst {
		messages = append(messages, provider.Message{
			Role:    provider.RoleUser,
			Content: labelled(job.ModeratorLabel, newMessage),
		})
		return s.request(jobID, DebateMaxTokens, messages)
	}

	for _, turn := range history {
		if speaker.Matches(turn.Speaker) {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: turn.Content})
			continue
		}
		messages = append(messages, provider.Message{
			Role:    provider.RoleUser,
			Content: labelled(turn.Speaker, turn.Content),
		})
	}

	if newMessage != "" {
		messages = append(messages, provider.Message{
			Role:    provider.RoleUser,
			Content: labelled(job.ModeratorLabel, newMessage),
		})
	} else {
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: continueInstruction})
	}
	return s.request(jobID, DebateMaxTokens, messages)
}

func debateSystemPrompt(speaker job.Persona, panel []job.Persona) string {
	var others []string
	for _, p := range panel {
		if p.ID == speaker.ID || p.ID == job.AllPersonaID {
			continue
		}
		others = append(others, p.Name)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", speaker.Name, speaker.Description)
	b.WriteString("You are taking part in a moderated debate. Stay in character and answer in the first person.\n")
	if len(others) > 0 {
		fmt.Fprintf(&b, "The other participants are: %s.\n", strings.Join(others, ", "))
	}
	b.WriteString("Engage with what the others have said and keep your reply under 150 words.")
	return b.String()
}

func labelled(speaker, content string) string {
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		return content
	}
	return speaker + ": " + content
}
