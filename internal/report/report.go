// Package report ranks and formats score results for analysts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Risk bands for human-readable summaries.
const (
	BandLow      = "low"
	BandModerate = "moderate"
	BandElevated = "elevated"
	BandHigh     = "high"
	BandSevere   = "severe"
)

// RiskBand buckets a score into a named band.
func RiskBand(score int) string {
	switch {
	case score >= 80:
		return BandLow
	case score >= 60:
		return BandModerate
	case score >= 40:
		return BandElevated
	case score >= 20:
		return BandHigh
	default:
		return BandSevere
	}
}

// Rank orders results by descending score; ties break on account id so the
// ordering is deterministic.
func Rank(results map[string]*domain.ScoreResult) []*domain.ScoreResult {
	ranked := make([]*domain.ScoreResult, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, r)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Account < ranked[j].Account
	})
	return ranked
}

// Summary aggregates a batch of results.
type Summary struct {
	Accounts  int            `json:"accounts"`
	MeanScore float64        `json:"meanScore"`
	MinScore  int            `json:"minScore"`
	MaxScore  int            `json:"maxScore"`
	Bands     map[string]int `json:"bands"`
}

// Summarize computes batch-level statistics over a result set.
func Summarize(results map[string]*domain.ScoreResult) Summary {
	summary := Summary{
		Bands: make(map[string]int),
	}
	if len(results) == 0 {
		return summary
	}

	summary.Accounts = len(results)
	summary.MinScore = 101
	summary.MaxScore = -1

	var total int
	for _, r := range results {
		total += r.Score
		if r.Score < summary.MinScore {
			summary.MinScore = r.Score
		}
		if r.Score > summary.MaxScore {
			summary.MaxScore = r.Score
		}
		summary.Bands[RiskBand(r.Score)]++
	}
	summary.MeanScore = float64(total) / float64(len(results))

	return summary
}

// WriteTable writes a ranked plain-text table of results.
func WriteTable(w io.Writer, results map[string]*domain.ScoreResult) error {
	ranked := Rank(results)

	if _, err := fmt.Fprintf(w, "%-4s %-44s %6s %-10s %s\n", "#", "ACCOUNT", "SCORE", "BAND", "FLAGS"); err != nil {
		return err
	}

	for i, r := range ranked {
		flags := ""
		for j, f := range r.Flags {
			if j > 0 {
				flags += ", "
			}
			flags += f.Name
		}
		if _, err := fmt.Fprintf(w, "%-4d %-44s %6d %-10s %s\n", i+1, r.Account, r.Score, RiskBand(r.Score), flags); err != nil {
			return err
		}
	}

	return nil
}

// WriteJSON writes the ranked results and summary as a JSON document.
func WriteJSON(w io.Writer, results map[string]*domain.ScoreResult) error {
	doc := struct {
		Summary Summary               `json:"summary"`
		Results []*domain.ScoreResult `json:"results"`
	}{
		Summary: Summarize(results),
		Results: Rank(results),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
