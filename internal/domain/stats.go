// Package domain contains the core data structures and domain logic for the application.
package domain

import "time"

// RepoStats holds the totals derived from a user's repository list.
// It is recomputed on every aggregation and never persisted on its own.
type RepoStats struct {
	TotalRepos     int            `json:"total_repos"`
	TotalStars     int            `json:"total_stars"`
	TotalForks     int            `json:"total_forks"`
	LanguageCounts map[string]int `json:"language_counts"`
	// LastUpdated is the newest repository UpdatedAt, zero for an empty list.
	LastUpdated time.Time `json:"last_updated"`
}

// LanguageShare is one row of the language distribution, ordered by Count.
type LanguageShare struct {
	Language   string  `json:"language"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ContributionDay is a single cell of the contribution calendar.
type ContributionDay struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
	Level int    `json:"level"`
}

// Streaks summarises runs of days with at least one contribution.
type Streaks struct {
	CurrentStreak      int `json:"current_streak"`
	LongestStreak      int `json:"longest_streak"`
	TotalContributions int `json:"total_contributions"`
}

// ActivityCounts holds per-kind counters classified from the event feed.
type ActivityCounts struct {
	Commits int `json:"commits"`
	PRs     int `json:"prs"`
	Issues  int `json:"issues"`
	Reviews int `json:"reviews"`
}

// ContributionStats combines streaks, activity counters and day averages.
type ContributionStats struct {
	Streaks
	ActivityCounts
	ActiveDays          int     `json:"active_days"`
	AveragePerActiveDay float64 `json:"average_per_active_day"`
}

// Snapshot is the output of one fetch+aggregate pipeline run.
type Snapshot struct {
	Username      string            `json:"username"`
	User          *User             `json:"user,omitempty"`
	Repositories  []Repository      `json:"repositories"`
	Stats         RepoStats         `json:"stats"`
	Languages     []LanguageShare   `json:"languages"`
	Calendar      []ContributionDay `json:"calendar"`
	Contributions ContributionStats `json:"contributions"`
	Activity      []Event           `json:"activity"`
	Stale         bool              `json:"stale"`
	GeneratedAt   time.Time         `json:"generated_at"`
}
