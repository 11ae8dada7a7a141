package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"assetline/internal/domain"
)

func scoringConfig() ScoringConfig {
	return ScoringConfig{Engine: 5, Style: 5, Topology: 5, Priority: 2, Alternates: 2}
}

func TestAssignArtistBestMatch(t *testing.T) {
	req := domain.Request{
		ID: "req-1", Account: "Acme",
		Style: "stylized_hard_surface", Engine: "unreal", Topology: "game_ready", Priority: "priority",
	}
	artists := []domain.Artist{
		{ID: "artist-ben", Name: "Ben", Skills: []string{"unreal", "stylized", "hard surface modeling"}, CapacityConcurrent: 3, ActiveLoad: 1},
		{ID: "artist-ada", Name: "Ada", Skills: []string{"unity", "realistic"}, CapacityConcurrent: 2, ActiveLoad: 0},
	}
	assignment := AssignArtist(req, domain.Plan{}, artists, scoringConfig())
	if assert.NotNil(t, assignment.ArtistID) {
		assert.Equal(t, "artist-ben", *assignment.ArtistID)
	}
	if assert.NotNil(t, assignment.ArtistName) {
		assert.Equal(t, "Ben", *assignment.ArtistName)
	}
	// engine 5 + style 5 + priority 2
	assert.Equal(t, 12, assignment.MatchScore)
	assert.Contains(t, assignment.Reason, "matches engine unreal")
	assert.Contains(t, assignment.Reason, "matches style stylized_hard_surface")
	assert.Contains(t, assignment.Reason, "priority request")
	assert.Contains(t, assignment.Reason, "has 2 slots available")
	if assert.Len(t, assignment.Alternative, 1) {
		assert.Equal(t, "artist-ada", assignment.Alternative[0].ArtistID)
		assert.Equal(t, 2, assignment.Alternative[0].MatchScore)
	}
}

func TestAssignArtistSaturatedExcluded(t *testing.T) {
	req := domain.Request{ID: "req-1", Account: "Acme", Engine: "unreal"}
	artists := []domain.Artist{
		{ID: "artist-full", Name: "Full", Skills: []string{"unreal"}, CapacityConcurrent: 2, ActiveLoad: 2},
		{ID: "artist-over", Name: "Over", Skills: []string{"unreal"}, CapacityConcurrent: 1, ActiveLoad: 3},
		{ID: "artist-free", Name: "Free", Skills: []string{"unity"}, CapacityConcurrent: 1, ActiveLoad: 0},
	}
	assignment := AssignArtist(req, domain.Plan{}, artists, scoringConfig())
	// The only available artist wins even with score zero; saturated artists
	// never appear as alternatives either.
	if assert.NotNil(t, assignment.ArtistID) {
		assert.Equal(t, "artist-free", *assignment.ArtistID)
	}
	assert.Equal(t, 0, assignment.MatchScore)
	assert.Empty(t, assignment.Alternative)
}

func TestAssignArtistNoCandidates(t *testing.T) {
	req := domain.Request{ID: "req-1", Account: "Acme", Engine: "unreal"}
	artists := []domain.Artist{
		{ID: "artist-a", Name: "A", Skills: []string{"unreal"}, CapacityConcurrent: 1, ActiveLoad: 1},
	}
	assignment := AssignArtist(req, domain.Plan{}, artists, scoringConfig())
	assert.Nil(t, assignment.ArtistID)
	assert.Nil(t, assignment.ArtistName)
	assert.Equal(t, 0, assignment.MatchScore)
	assert.Equal(t, NoCandidateReason, assignment.Reason)
	assert.Equal(t, []domain.AlternativeArtist{}, assignment.Alternative)
}

func TestAssignArtistTiebreakLoadThenName(t *testing.T) {
	req := domain.Request{ID: "req-1", Account: "Acme", Engine: "unreal"}
	artists := []domain.Artist{
		{ID: "artist-z", Name: "Zoe", Skills: []string{"unreal"}, CapacityConcurrent: 3, ActiveLoad: 2},
		{ID: "artist-b", Name: "Bea", Skills: []string{"unreal"}, CapacityConcurrent: 3, ActiveLoad: 1},
		{ID: "artist-a", Name: "Ann", Skills: []string{"unreal"}, CapacityConcurrent: 3, ActiveLoad: 1},
	}
	assignment := AssignArtist(req, domain.Plan{}, artists, scoringConfig())
	// Equal scores: lower active load wins, then name ascending.
	if assert.NotNil(t, assignment.ArtistID) {
		assert.Equal(t, "artist-a", *assignment.ArtistID)
	}
	if assert.Len(t, assignment.Alternative, 2) {
		assert.Equal(t, "artist-b", assignment.Alternative[0].ArtistID)
		assert.Equal(t, "artist-z", assignment.Alternative[1].ArtistID)
	}
}

func TestAssignArtistPriorityFromPlanQueue(t *testing.T) {
	req := domain.Request{ID: "req-1", Account: "Acme"}
	artists := []domain.Artist{
		{ID: "artist-a", Name: "Ann", Skills: []string{"unreal"}, CapacityConcurrent: 1, ActiveLoad: 0},
	}
	assignment := AssignArtist(req, domain.Plan{PriorityQueue: true}, artists, scoringConfig())
	assert.Equal(t, 2, assignment.MatchScore)
	assert.Contains(t, assignment.Reason, "priority request")
}

func TestAssignArtistPriorityNudgeAppliedOnce(t *testing.T) {
	// Both the request field and the plan queue flag set: still one nudge.
	req := domain.Request{ID: "req-1", Account: "Acme", Priority: "priority"}
	artists := []domain.Artist{
		{ID: "artist-a", Name: "Ann", Skills: []string{"sculpting"}, CapacityConcurrent: 1, ActiveLoad: 0},
	}
	assignment := AssignArtist(req, domain.Plan{PriorityQueue: true}, artists, scoringConfig())
	assert.Equal(t, 2, assignment.MatchScore)
}

func TestAssignArtistCaseInsensitiveMatching(t *testing.T) {
	req := domain.Request{ID: "req-1", Account: "Acme", Engine: "Unreal", Topology: "Game_Ready"}
	artists := []domain.Artist{
		{ID: "artist-a", Name: "Ann", Skills: []string{"UNREAL", "game_ready"}, CapacityConcurrent: 1, ActiveLoad: 0},
	}
	assignment := AssignArtist(req, domain.Plan{}, artists, scoringConfig())
	assert.Equal(t, 10, assignment.MatchScore)
	assert.Contains(t, assignment.Reason, "matches topology Game_Ready")
}

func TestAssignArtistAlternatesCapped(t *testing.T) {
	req := domain.Request{ID: "req-1", Account: "Acme", Engine: "unreal"}
	var artists []domain.Artist
	for _, name := range []string{"Ann", "Bea", "Cal", "Dee", "Eli"} {
		artists = append(artists, domain.Artist{
			ID: "artist-" + name, Name: name, Skills: []string{"unreal"}, CapacityConcurrent: 2, ActiveLoad: 0,
		})
	}
	assignment := AssignArtist(req, domain.Plan{}, artists, scoringConfig())
	assert.Len(t, assignment.Alternative, 2)
}
