package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// Repository is the subset of the GitHub repository object the site consumes.
type Repository struct {
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	Language        *string   `json:"language,omitempty"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	WatchersCount   int       `json:"watchers_count"`
	UpdatedAt       time.Time `json:"updated_at"`
	Topics          []string  `json:"topics,omitempty"`
	HTMLURL         string    `json:"html_url"`
}

// Event is an entry of the public events feed.
type Event struct {
	Type      string       `json:"type"`
	CreatedAt time.Time    `json:"created_at"`
	Payload   EventPayload `json:"payload"`
	Repo      *EventRepo   `json:"repo,omitempty"`
}

// EventPayload keeps the payload fields the aggregator and descriptions read.
type EventPayload struct {
	Action  string            `json:"action,omitempty"`
	RefType string            `json:"ref_type,omitempty"`
	Commits []json.RawMessage `json:"commits,omitempty"`
}

// EventRepo identifies the repository an event belongs to.
type EventRepo struct {
	Name string `json:"name"`
}

// User is the public profile returned by users/{username}.
type User struct {
	Login       string `json:"login"`
	Name        string `json:"name,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	HTMLURL     string `json:"html_url,omitempty"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
	Following   int    `json:"following"`
}

// wireRepository mirrors Repository with pointers so missing fields can be told
// apart from zero values.
type wireRepository struct {
	Name            *string    `json:"name"`
	Description     *string    `json:"description"`
	Language        *string    `json:"language"`
	StargazersCount *int       `json:"stargazers_count"`
	ForksCount      *int       `json:"forks_count"`
	WatchersCount   int        `json:"watchers_count"`
	UpdatedAt       *time.Time `json:"updated_at"`
	Topics          []string   `json:"topics"`
	HTMLURL         string     `json:"html_url"`
}

type wireEvent struct {
	Type      *string         `json:"type"`
	CreatedAt *time.Time      `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
	Repo      *EventRepo      `json:"repo"`
}

// ParseRepositories decodes a repos collection, failing with ErrMalformedInput
// when the payload is not an array or an item lacks name, stargazers_count or
// forks_count.
func ParseRepositories(raw json.RawMessage) ([]Repository, error) {
	items, err := splitArray(raw, "repositories")
	if err != nil {
		return nil, err
	}
	repos := make([]Repository, 0, len(items))
	for i, item := range items {
		var w wireRepository
		if err := json.Unmarshal(item, &w); err != nil {
			return nil, Malformed("repository %d: %v", i, err)
		}
		switch {
		case w.Name == nil || *w.Name == "":
			return nil, Malformed("repository %d: missing name", i)
		case w.StargazersCount == nil:
			return nil, Malformed("repository %q: missing stargazers_count", *w.Name)
		case w.ForksCount == nil:
			return nil, Malformed("repository %q: missing forks_count", *w.Name)
		}
		repo := Repository{
			Name:            *w.Name,
			Description:     w.Description,
			Language:        w.Language,
			StargazersCount: *w.StargazersCount,
			ForksCount:      *w.ForksCount,
			WatchersCount:   w.WatchersCount,
			Topics:          w.Topics,
			HTMLURL:         w.HTMLURL,
		}
		if w.UpdatedAt != nil {
			repo.UpdatedAt = *w.UpdatedAt
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// ParseEvents decodes an events collection. Every event needs a type and a
// created_at timestamp; a PushEvent whose commits field is not a list is
// rejected.
func ParseEvents(raw json.RawMessage) ([]Event, error) {
	items, err := splitArray(raw, "events")
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(items))
	for i, item := range items {
		var w wireEvent
		if err := json.Unmarshal(item, &w); err != nil {
			return nil, Malformed("event %d: %v", i, err)
		}
		if w.Type == nil || *w.Type == "" {
			return nil, Malformed("event %d: missing type", i)
		}
		if w.CreatedAt == nil {
			return nil, Malformed("event %d (%s): missing created_at", i, *w.Type)
		}
		ev := Event{Type: *w.Type, CreatedAt: *w.CreatedAt, Repo: w.Repo}
		if len(w.Payload) > 0 && !isNull(w.Payload) {
			if err := json.Unmarshal(w.Payload, &ev.Payload); err != nil {
				return nil, Malformed("event %d (%s) payload: %v", i, *w.Type, err)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// ParseUser decodes a users/{username} response.
func ParseUser(raw json.RawMessage) (*User, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, Malformed("user: expected an object")
	}
	var u User
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return nil, Malformed("user: %v", err)
	}
	if u.Login == "" {
		return nil, Malformed("user: missing login")
	}
	return &u, nil
}

func splitArray(raw json.RawMessage, what string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, Malformed("%s: expected a collection", what)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, Malformed("%s: %v", what, err)
	}
	return items, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
