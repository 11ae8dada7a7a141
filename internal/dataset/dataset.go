// Package dataset loads the reference documents the pipeline consumes:
// requests, artist roster, customer presets and routing rules. The documents
// are read-only inputs owned by external systems; this package only parses
// and shape-checks them.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"assetline/internal/domain"
)

const (
	RequestsFile = "requests.json"
	ArtistsFile  = "artists.json"
	PresetsFile  = "presets.json"
	RulesFile    = "rules.json"
)

// Dataset is one consistent snapshot of the reference documents.
type Dataset struct {
	Requests []domain.Request
	Artists  []domain.Artist
	Presets  map[string]domain.Preset
	Rules    []domain.Rule
}

// Load reads the four reference documents from dir. A missing file yields an
// empty collection; an unreadable or malformed file is an error. Rules get
// positional ids (rule_0, rule_1, ...) in declaration order.
func Load(dir string) (*Dataset, error) {
	ds := &Dataset{Presets: map[string]domain.Preset{}}

	if err := readJSON(filepath.Join(dir, RequestsFile), &ds.Requests); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, ArtistsFile), &ds.Artists); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, PresetsFile), &ds.Presets); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, RulesFile), &ds.Rules); err != nil {
		return nil, err
	}
	for i := range ds.Rules {
		ds.Rules[i].ID = fmt.Sprintf("rule_%d", i)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Validate shape-checks every entry. A malformed reference document is the
// one fault class treated as fatal to an import.
func (ds *Dataset) Validate() error {
	seenRequests := map[string]bool{}
	for i, req := range ds.Requests {
		if req.ID == "" {
			return fmt.Errorf("%s[%d]: request id is required", RequestsFile, i)
		}
		if req.Account == "" {
			return fmt.Errorf("%s[%d]: request account is required", RequestsFile, i)
		}
		if seenRequests[req.ID] {
			return fmt.Errorf("%s[%d]: duplicate request id %s", RequestsFile, i, req.ID)
		}
		seenRequests[req.ID] = true
	}
	seenArtists := map[string]bool{}
	for i, a := range ds.Artists {
		if a.ID == "" {
			return fmt.Errorf("%s[%d]: artist id is required", ArtistsFile, i)
		}
		if a.Name == "" {
			return fmt.Errorf("%s[%d]: artist name is required", ArtistsFile, i)
		}
		if a.CapacityConcurrent < 0 {
			return fmt.Errorf("%s[%d]: artist capacity_concurrent must not be negative", ArtistsFile, i)
		}
		if seenArtists[a.ID] {
			return fmt.Errorf("%s[%d]: duplicate artist id %s", ArtistsFile, i, a.ID)
		}
		seenArtists[a.ID] = true
	}
	for i, rule := range ds.Rules {
		if len(rule.If) == 0 {
			return fmt.Errorf("%s[%d]: rule has no conditions", RulesFile, i)
		}
		if len(rule.Then.Steps) == 0 && rule.Then.SLAHours == 0 && rule.Then.Queue == "" {
			return fmt.Errorf("%s[%d]: rule has no effect", RulesFile, i)
		}
	}
	return nil
}
