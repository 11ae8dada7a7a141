package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"assetline/internal/config"
	"assetline/internal/dataset"
	"assetline/internal/db"
	"assetline/internal/engine"
	"assetline/internal/migrate"
	"assetline/internal/server"
)

func main() {
	workspace := "/tmp/assetline-check1"
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		panic(err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		panic(err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		panic(err)
	}
	cfg := config.Default("assetline")
	e := engine.New(conn, cfg)

	dataDir := filepath.Join(workspace, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		panic(err)
	}
	writeJSON(filepath.Join(dataDir, "requests.json"), []map[string]any{
		{"id": "req-100", "account": "ArcadiaXR", "style": "stylized", "engine": "unreal", "priority": "priority"},
	})
	writeJSON(filepath.Join(dataDir, "artists.json"), []map[string]any{
		{"id": "artist-ben", "name": "Ben", "skills": []string{"unreal", "stylized"}, "capacity_concurrent": 3, "active_load": 1},
	})
	writeJSON(filepath.Join(dataDir, "presets.json"), map[string]any{
		"ArcadiaXR": map[string]any{
			"version": 3,
			"packing": map[string]string{"r": "ao", "g": "roughness", "b": "metallic", "a": "opacity"},
		},
	})
	writeJSON(filepath.Join(dataDir, "rules.json"), []map[string]any{
		{"if": map[string]string{"priority": "priority"}, "then": map[string]any{"sla_hours": 24, "queue": "expedite"}},
	})

	ds, err := dataset.Load(dataDir)
	if err != nil {
		panic(err)
	}
	if err := e.ImportDataset(context.Background(), ds); err != nil {
		panic(err)
	}

	h, err := server.New(server.Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		panic(err)
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v0/requests/req-100/process", nil)
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		panic(err)
	}
	defer res.Body.Close()
	var resp any
	_ = json.NewDecoder(res.Body).Decode(&resp)
	fmt.Printf("status=%d resp=%v\n", res.StatusCode, resp)
}

func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		panic(err)
	}
}
