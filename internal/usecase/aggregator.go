// Package usecase contains the business logic of the application.
package usecase

import (
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
)

// CalendarDays is the length of the contribution calendar window.
const CalendarDays = 365

const dayLayout = "2006-01-02"

// ComputeRepoStats totals stars and forks, counts repositories per language
// and records the most recent update. Repositories without a language are not
// counted in LanguageCounts.
func ComputeRepoStats(repos []domain.Repository) (domain.RepoStats, error) {
	result := domain.RepoStats{
		TotalRepos:     len(repos),
		LanguageCounts: make(map[string]int),
	}
	for i, repo := range repos {
		if repo.Name == "" {
			return domain.RepoStats{}, domain.Malformed("repository %d has no name", i)
		}
		if repo.StargazersCount < 0 || repo.ForksCount < 0 {
			return domain.RepoStats{}, domain.Malformed("repository %q has negative counters", repo.Name)
		}
		result.TotalStars += repo.StargazersCount
		result.TotalForks += repo.ForksCount
		if repo.Language != nil && *repo.Language != "" {
			result.LanguageCounts[*repo.Language]++
		}
		if repo.UpdatedAt.After(result.LastUpdated) {
			result.LastUpdated = repo.UpdatedAt
		}
	}
	return result, nil
}

// TopLanguages returns the n most used languages with their share of all
// repositories that declare a language. n <= 0 returns every language.
func TopLanguages(repoStats domain.RepoStats, n int) []domain.LanguageShare {
	total := 0
	shares := make([]domain.LanguageShare, 0, len(repoStats.LanguageCounts))
	for lang, count := range repoStats.LanguageCounts {
		total += count
		shares = append(shares, domain.LanguageShare{Language: lang, Count: count})
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Language < shares[j].Language
	})
	if n > 0 && len(shares) > n {
		shares = shares[:n]
	}
	for i := range shares {
		pct, _ := stats.Round(float64(shares[i].Count)/float64(total)*100, 1)
		shares[i].Percentage = pct
	}
	return shares
}

// ContributionLevel buckets a daily count into the 0-4 intensity scale.
func ContributionLevel(count int) int {
	switch {
	case count <= 0:
		return 0
	case count <= 3:
		return 1
	case count <= 6:
		return 2
	case count <= 9:
		return 3
	default:
		return 4
	}
}

// ComputeContributionCalendar counts one contribution per event on its UTC
// day and lays the counts over the 365 days ending at today.
func ComputeContributionCalendar(events []domain.Event, today time.Time) ([]domain.ContributionDay, error) {
	counts := make(map[string]int)
	for i, ev := range events {
		if ev.Type == "" || ev.CreatedAt.IsZero() {
			return nil, domain.Malformed("event %d lacks a type or created_at", i)
		}
		counts[ev.CreatedAt.UTC().Format(dayLayout)]++
	}
	return CalendarFromCounts(counts, today)
}

// CalendarFromCounts builds the 365-day calendar from counts keyed by
// YYYY-MM-DD. Days outside the window are ignored.
func CalendarFromCounts(counts map[string]int, today time.Time) ([]domain.ContributionDay, error) {
	for day, count := range counts {
		if count < 0 {
			return nil, domain.Malformed("negative contribution count on %s", day)
		}
	}
	t := today.UTC()
	last := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	calendar := make([]domain.ContributionDay, 0, CalendarDays)
	for i := CalendarDays - 1; i >= 0; i-- {
		date := last.AddDate(0, 0, -i).Format(dayLayout)
		count := counts[date]
		calendar = append(calendar, domain.ContributionDay{
			Date:  date,
			Count: count,
			Level: ContributionLevel(count),
		})
	}
	return calendar, nil
}

// ComputeStreaks walks the calendar in chronological order. The current
// streak is the run of non-zero days ending at the last day.
func ComputeStreaks(calendar []domain.ContributionDay) domain.Streaks {
	var s domain.Streaks
	run := 0
	for _, day := range calendar {
		s.TotalContributions += day.Count
		if day.Count > 0 {
			run++
			if run > s.LongestStreak {
				s.LongestStreak = run
			}
		} else {
			run = 0
		}
	}
	s.CurrentStreak = run
	return s
}

// CountActivity classifies events by type. A PushEvent contributes the number
// of commits in its payload; pull requests, issues and reviews count once.
func CountActivity(events []domain.Event) domain.ActivityCounts {
	var c domain.ActivityCounts
	for _, ev := range events {
		switch ev.Type {
		case "PushEvent":
			c.Commits += len(ev.Payload.Commits)
		case "PullRequestEvent":
			c.PRs++
		case "IssuesEvent":
			c.Issues++
		case "PullRequestReviewEvent":
			c.Reviews++
		}
	}
	return c
}

// SummarizeContributions combines streaks, activity counters and the average
// count over days with at least one contribution.
func SummarizeContributions(calendar []domain.ContributionDay, events []domain.Event) domain.ContributionStats {
	summary := domain.ContributionStats{
		Streaks:        ComputeStreaks(calendar),
		ActivityCounts: CountActivity(events),
	}
	var active stats.Float64Data
	for _, day := range calendar {
		if day.Count > 0 {
			active = append(active, float64(day.Count))
		}
	}
	summary.ActiveDays = active.Len()
	if mean, err := active.Mean(); err == nil {
		summary.AveragePerActiveDay, _ = stats.Round(mean, 2)
	}
	return summary
}
