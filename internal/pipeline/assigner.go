package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"assetline/internal/domain"
)

// ScoringConfig carries the match weights and how many runner-up candidates
// an assignment lists.
type ScoringConfig struct {
	Engine     int
	Style      int
	Topology   int
	Priority   int
	Alternates int
}

// NoCandidateReason is returned when every artist is saturated or the roster
// is empty. Running out of candidates is a normal terminal outcome, never an
// error.
const NoCandidateReason = "No available artists with matching skills"

type candidate struct {
	artist  domain.Artist
	score   int
	reasons []string
}

// AssignArtist scores the roster against a request and its plan, excludes
// saturated artists, and picks one deterministic winner. Ranking is
// match_score descending, then active_load ascending, then name ascending,
// so any fixed input yields exactly one result.
func AssignArtist(req domain.Request, plan domain.Plan, artists []domain.Artist, cfg ScoringConfig) domain.Assignment {
	var candidates []candidate
	for _, a := range artists {
		available := a.Available()
		if available <= 0 {
			// Saturated artists never appear anywhere in the result.
			continue
		}
		score, reasons := scoreArtist(req, plan, a, cfg)
		reasons = append(reasons, fmt.Sprintf("has %d slots available", available))
		candidates = append(candidates, candidate{artist: a, score: score, reasons: reasons})
	}

	if len(candidates) == 0 {
		return domain.Assignment{
			MatchScore:  0,
			Reason:      NoCandidateReason,
			Alternative: []domain.AlternativeArtist{},
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].artist.ActiveLoad != candidates[j].artist.ActiveLoad {
			return candidates[i].artist.ActiveLoad < candidates[j].artist.ActiveLoad
		}
		return candidates[i].artist.Name < candidates[j].artist.Name
	})

	top := candidates[0]
	alternates := []domain.AlternativeArtist{}
	for _, c := range candidates[1:] {
		if len(alternates) == cfg.Alternates {
			break
		}
		alternates = append(alternates, domain.AlternativeArtist{
			ArtistID:   c.artist.ID,
			MatchScore: c.score,
		})
	}

	id := top.artist.ID
	name := top.artist.Name
	return domain.Assignment{
		ArtistID:    &id,
		ArtistName:  &name,
		MatchScore:  top.score,
		Reason:      "Best match: " + strings.Join(top.reasons, ", "),
		Alternative: alternates,
	}
}

func scoreArtist(req domain.Request, plan domain.Plan, a domain.Artist, cfg ScoringConfig) (int, []string) {
	skills := make([]string, len(a.Skills))
	for i, s := range a.Skills {
		skills[i] = strings.ToLower(s)
	}

	score := 0
	var reasons []string

	engine := strings.ToLower(req.Engine)
	if engine != "" && containsExact(skills, engine) {
		score += cfg.Engine
		reasons = append(reasons, "matches engine "+engine)
	}

	if req.Style != "" && styleMatches(req.Style, skills) {
		score += cfg.Style
		reasons = append(reasons, "matches style "+req.Style)
	}

	topology := strings.ToLower(req.Topology)
	if topology != "" && containsExact(skills, topology) {
		score += cfg.Topology
		reasons = append(reasons, "matches topology "+req.Topology)
	}

	// A single nudge no matter how many priority signals are set.
	if req.Priority == "priority" || plan.PriorityQueue {
		score += cfg.Priority
		reasons = append(reasons, "priority request")
	}

	return score, reasons
}

// styleMatches tokenizes the style (underscores become spaces) and accepts
// any token contained in any skill, so "stylized_hard_surface" matches an
// artist skilled in "stylized" or "hard surface modeling".
func styleMatches(style string, skills []string) bool {
	tokens := strings.Fields(strings.ReplaceAll(strings.ToLower(style), "_", " "))
	for _, token := range tokens {
		for _, skill := range skills {
			if strings.Contains(skill, token) {
				return true
			}
		}
	}
	return false
}

func containsExact(skills []string, want string) bool {
	for _, s := range skills {
		if s == want {
			return true
		}
	}
	return false
}
