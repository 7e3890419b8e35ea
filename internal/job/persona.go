package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

const (
	AllPersonaID   = "all"
	ModeratorLabel = "Moderator"
)

// AllPersona addresses every persona on the panel at once.
var AllPersona = Persona{
	ID:          AllPersonaID,
	Name:        "All Personas",
	Description: "Every persona on the panel responds in turn.",
}

type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Matches reports whether a conversation speaker label refers to p.
func (p Persona) Matches(speaker string) bool {
	speaker = strings.TrimSpace(speaker)
	return speaker != "" && (strings.EqualFold(speaker, p.Name) || speaker == p.ID)
}

func FindPersona(personas []Persona, id string) (Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// NormalizeID converts free text into a lowercase-hyphenated token.
func NormalizeID(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// NormalizePersonas cleans a panel supplied by a client. Ids are normalized
// with NormalizeID, falling back to the name, and an "all" entry becomes
// AllPersona. The result is checked with ValidatePersonas.
func NormalizePersonas(personas []Persona) ([]Persona, error) {
	out := make([]Persona, 0, len(personas))
	for _, p := range personas {
		id := NormalizeID(p.ID)
		if id == "" {
			id = NormalizeID(p.Name)
		}
		if id == AllPersonaID {
			out = append(out, AllPersona)
			continue
		}
		out = append(out, Persona{
			ID:          id,
			Name:        strings.TrimSpace(p.Name),
			Description: strings.TrimSpace(p.Description),
		})
	}
	if err := ValidatePersonas(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidatePersonas requires every persona to have a name and a unique,
// already normalized id.
func ValidatePersonas(personas []Persona) error {
	seen := make(map[string]bool, len(personas))
	for i, p := range personas {
		switch {
		case p.ID == "":
			return NewValidationError("personas", fmt.Sprintf("persona %d has no id", i+1))
		case p.ID != NormalizeID(p.ID):
			return NewValidationError("personas", fmt.Sprintf("persona id %q is not lowercase-hyphenated", p.ID))
		case strings.TrimSpace(p.Name) == "":
			return NewValidationError("personas", fmt.Sprintf("persona %q has no name", p.ID))
		case seen[p.ID]:
			return NewValidationError("personas", fmt.Sprintf("duplicate persona id %q", p.ID))
		}
		seen[p.ID] = true
	}
	return nil
}

// ConversationTurn is one entry of a debate transcript.
type ConversationTurn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// UnmarshalJSON also accepts "persona" as the speaker key, which is what the
// web client sends.
func (t *ConversationTurn) UnmarshalJSON(data []byte) error {
	var raw struct {
		Speaker string `json:"speaker"`
		Persona string `json:"persona"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.Speaker = raw.Speaker
	if t.Speaker == "" {
		t.Speaker = raw.Persona
	}
	t.Content = raw.Content
	return nil
}

// DebateReply is the result of one persona speaking.
type DebateReply struct {
	Persona  Persona `json:"persona"`
	Response string  `json:"response"`
}
