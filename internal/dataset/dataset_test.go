package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadFullDataset(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RequestsFile, `[{"id":"req-001","account":"ArcadiaXR","style":"stylized","engine":"unreal"}]`)
	writeFile(t, dir, ArtistsFile, `[{"id":"artist-ben","name":"Ben","skills":["unreal"],"capacity_concurrent":3,"active_load":1}]`)
	writeFile(t, dir, PresetsFile, `{"ArcadiaXR":{"version":3,"packing":{"r":"ao","g":"roughness","b":"metallic","a":"opacity"}}}`)
	writeFile(t, dir, RulesFile, `[{"if":{"style":"stylized"},"then":{"steps":["style_review"]}}]`)

	ds, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, ds.Requests, 1)
	assert.Equal(t, "req-001", ds.Requests[0].ID)
	require.Len(t, ds.Artists, 1)
	assert.Equal(t, 3, ds.Artists[0].CapacityConcurrent)
	require.Contains(t, ds.Presets, "ArcadiaXR")
	assert.Equal(t, 3, ds.Presets["ArcadiaXR"].Version)
	require.Len(t, ds.Rules, 1)
	assert.Equal(t, "rule_0", ds.Rules[0].ID)
}

func TestLoadMissingFilesYieldEmptyCollections(t *testing.T) {
	ds, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, ds.Requests)
	assert.Empty(t, ds.Artists)
	assert.Empty(t, ds.Presets)
	assert.Empty(t, ds.Rules)
}

func TestLoadMalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RequestsFile, `{"not":"a list"}`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse requests.json")
}

func TestLoadRuleIDsFollowDeclarationOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RulesFile, `[
		{"if":{"style":"a"},"then":{"steps":["x"]}},
		{"if":{"style":"b"},"then":{"sla_hours":24}},
		{"if":{"style":"c"},"then":{"queue":"expedite"}}
	]`)
	ds, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, ds.Rules, 3)
	assert.Equal(t, "rule_0", ds.Rules[0].ID)
	assert.Equal(t, "rule_1", ds.Rules[1].ID)
	assert.Equal(t, "rule_2", ds.Rules[2].ID)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RequestsFile, `[
		{"id":"req-001","account":"A"},
		{"id":"req-001","account":"B"}
	]`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate request id req-001")
}

func TestValidateRejectsRuleWithoutConditions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RulesFile, `[{"if":{},"then":{"steps":["x"]}}]`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule has no conditions")
}

func TestValidateRejectsRuleWithoutEffect(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, RulesFile, `[{"if":{"style":"a"},"then":{}}]`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule has no effect")
}

func TestValidateRejectsNegativeCapacity(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ArtistsFile, `[{"id":"artist-a","name":"Ann","capacity_concurrent":-1}]`)
	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacity_concurrent")
}
