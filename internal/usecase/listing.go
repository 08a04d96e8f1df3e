package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

// DefaultActivityLimit is how many events an activity feed shows.
const DefaultActivityLimit = 10

// SortRepositories returns a sorted copy of repos. by is one of "stars",
// "forks", "name" or "updated" (the default).
func SortRepositories(repos []domain.Repository, by string) []domain.Repository {
	sorted := make([]domain.Repository, len(repos))
	copy(sorted, repos)
	var less func(a, b domain.Repository) bool
	switch by {
	case "stars":
		less = func(a, b domain.Repository) bool { return a.StargazersCount > b.StargazersCount }
	case "forks":
		less = func(a, b domain.Repository) bool { return a.ForksCount > b.ForksCount }
	case "name":
		less = func(a, b domain.Repository) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	default:
		less = func(a, b domain.Repository) bool { return a.UpdatedAt.After(b.UpdatedAt) }
	}
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

// FilterRepositories keeps repositories whose name or description contains
// term, ignoring case. An empty term keeps everything.
func FilterRepositories(repos []domain.Repository, term string) []domain.Repository {
	term = strings.ToLower(strings.TrimSpace(term))
	out := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		if term == "" || strings.Contains(strings.ToLower(r.Name), term) ||
			(r.Description != nil && strings.Contains(strings.ToLower(*r.Description), term)) {
			out = append(out, r)
		}
	}
	return out
}

// FilterActivity keeps events whose type contains filter ("all" or empty keeps
// every event) and truncates to limit.
func FilterActivity(events []domain.Event, filter string, limit int) []domain.Event {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	out := make([]domain.Event, 0, limit)
	for _, ev := range events {
		if len(out) == limit {
			break
		}
		if filter == "" || filter == "all" || strings.Contains(ev.Type, filter) {
			out = append(out, ev)
		}
	}
	return out
}

// DescribeEvent renders a one-line human summary of an event.
func DescribeEvent(ev domain.Event) string {
	switch ev.Type {
	case "PushEvent":
		n := len(ev.Payload.Commits)
		if n == 1 {
			return "Pushed 1 commit"
		}
		return fmt.Sprintf("Pushed %d commits", n)
	case "CreateEvent":
		ref := ev.Payload.RefType
		if ref == "" {
			ref = "repository"
		}
		return "Created " + ref
	case "PullRequestEvent":
		return withAction(ev.Payload.Action, "pull request")
	case "IssuesEvent":
		return withAction(ev.Payload.Action, "issue")
	case "PullRequestReviewEvent":
		return "Reviewed pull request"
	case "WatchEvent":
		return "Starred repository"
	case "ForkEvent":
		return "Forked repository"
	default:
		return strings.TrimSuffix(ev.Type, "Event")
	}
}

func withAction(action, noun string) string {
	if action == "" {
		action = "updated"
	}
	return action + " " + noun
}

// TimeAgo formats t relative to now: minutes, hours, then days up to a week,
// and a plain date after that.
func TimeAgo(t, now time.Time) string {
	diff := max(now.Sub(t), 0)
	switch {
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	default:
		return t.Format(dayLayout)
	}
}
