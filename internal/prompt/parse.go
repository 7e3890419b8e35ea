package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vnmchuo/persona-parley/internal/job"
)

type rawPersona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ParsePersonas reads the persona list out of a model answer. It accepts a
// bare array or an object wrapping one under "personas", optionally inside a
// markdown code fence. The reserved "all" id is never returned.
func ParsePersonas(content string) ([]job.Persona, error) {
	var raw []rawPersona
	if err := decodeList(content, []string{"personas"}, &raw); err != nil {
		return nil, &job.MalformedOutputError{Kind: job.KindPersonas, Err: err}
	}

	seen := make(map[string]bool)
	personas := make([]job.Persona, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		id := job.NormalizeID(r.ID)
		if id == "" {
			id = job.NormalizeID(name)
		}
		if id == "" || id == job.AllPersonaID || seen[id] {
			continue
		}
		seen[id] = true
		personas = append(personas, job.Persona{
			ID:          id,
			Name:        name,
			Description: strings.TrimSpace(r.Description),
		})
	}

	if len(personas) == 0 {
		return nil, &job.MalformedOutputError{Kind: job.KindPersonas, Err: errors.New("no usable personas")}
	}
	return personas, nil
}

// ParseSuggestions reads a list of suggested questions out of a model answer.
func ParseSuggestions(content string) ([]string, error) {
	var raw []string
	if err := decodeList(content, []string{"suggestions", "questions"}, &raw); err != nil {
		return nil, &job.MalformedOutputError{Kind: job.KindSuggestions, Err: err}
	}

	seen := make(map[string]bool)
	suggestions := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		suggestions = append(suggestions, s)
	}

	if len(suggestions) == 0 {
		return nil, &job.MalformedOutputError{Kind: job.KindSuggestions, Err: errors.New("no usable suggestions")}
	}
	return suggestions, nil
}

func decodeList(content string, keys []string, v any) error {
	body := stripFence(content)
	if body == "" {
		return errors.New("empty answer")
	}

	if strings.HasPrefix(body, "{") {
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
			return fmt.Errorf("decode object: %w", err)
		}
		for _, k := range keys {
			if list, ok := wrapper[k]; ok {
				return json.Unmarshal(list, v)
			}
		}
		return fmt.Errorf("object has none of the keys %v", keys)
	}

	if err := json.Unmarshal([]byte(body), v); err == nil {
		return nil
	}

	// Models sometimes wrap the array in prose.
	start, end := strings.Index(body, "["), strings.LastIndex(body, "]")
	if start < 0 || end <= start {
		return errors.New("no JSON array in answer")
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("decode array: %w", err)
	}
	return nil
}

func stripFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
