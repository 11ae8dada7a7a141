package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"assetline/internal/config"
	"assetline/internal/dataset"
	"assetline/internal/db"
	"assetline/internal/domain"
	"assetline/internal/engine"
	"assetline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("assetline"))
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := e.ImportDataset(context.Background(), &dataset.Dataset{
		Requests: []domain.Request{
			{ID: "req-001", Account: "ArcadiaXR", Style: "stylized", Engine: "unreal", Priority: "priority"},
			{ID: "req-002", Account: "NovaForge", Style: "realistic", Engine: "unity"},
		},
		Artists: []domain.Artist{
			{ID: "artist-ben", Name: "Ben", Skills: []string{"unreal", "stylized"}, CapacityConcurrent: 3, ActiveLoad: 1},
		},
		Presets: map[string]domain.Preset{
			"ArcadiaXR": {Version: 3, Packing: map[string]string{"r": "ao", "g": "roughness", "b": "metallic", "a": "opacity"}},
			"NovaForge": {Version: 1, Packing: map[string]string{"r": "ao"}},
		},
		Rules: []domain.Rule{
			{ID: "rule_0", If: map[string]string{"style": "stylized"}, Then: domain.RuleEffect{Steps: []string{"style_review"}}},
		},
	}); err != nil {
		t.Fatalf("import dataset: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestProcessRequestEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/req-001/process", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("process status %d: %s", res.StatusCode, string(data))
	}
	var d domain.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if d.Status != "success" {
		t.Fatalf("expected success, got %s: %s", d.Status, string(data))
	}
	if d.Assignment.ArtistID == nil || *d.Assignment.ArtistID != "artist-ben" {
		t.Fatalf("unexpected assignment: %s", string(data))
	}
	if d.Metrics.AgentType != "api" {
		t.Fatalf("expected api agent type, got %s", d.Metrics.AgentType)
	}

	getRes, getData := doJSON(t, client, http.MethodGet, srv.URL+"/v0/decisions/"+d.DecisionID, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get decision status %d: %s", getRes.StatusCode, string(getData))
	}
}

func TestProcessUnknownRequestIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/req-404/process", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v: %s", err, string(data))
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", envelope.Error.Code)
	}
}

func TestValidateEndpointNegativeResult(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/req-002/validate", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var result domain.ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.OK {
		t.Fatalf("expected failed validation: %s", string(data))
	}
	if len(result.Errors) == 0 {
		t.Fatalf("expected validation errors")
	}
}

func TestPlanEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/req-001/plan", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("plan status %d: %s", res.StatusCode, string(data))
	}
	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(plan.Steps) != 6 {
		t.Fatalf("expected 6 steps, got %v", plan.Steps)
	}
	if len(plan.MatchedRules) != 1 {
		t.Fatalf("expected 1 matched rule, got %d", len(plan.MatchedRules))
	}
}

func TestListResources(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	for _, path := range []string{"/v0/requests", "/v0/artists", "/v0/presets", "/v0/rules"} {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+path, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", path, res.StatusCode, string(data))
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			t.Fatalf("%s: expected array: %v", path, err)
		}
		if len(items) == 0 {
			t.Fatalf("%s: expected items", path)
		}
	}
}

func TestBatchProcessEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/process", nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("batch status %d: %s", res.StatusCode, string(data))
	}
	var batch BatchResponse
	if err := json.Unmarshal(data, &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch.Decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(batch.Decisions))
	}
	if len(batch.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", batch.Failed)
	}
}

func TestRecordDecisionEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/requests/req-001/decisions", map[string]any{
		"rationale": "manual override",
		"validation_result": map[string]any{
			"ok":             true,
			"errors":         []string{},
			"preset_version": 3,
		},
		"plan": map[string]any{
			"steps":           []string{"initial_review", "delivery"},
			"matched_rules":   []any{},
			"estimated_hours": 4,
			"sla_hours":       72,
			"priority_queue":  false,
		},
		"assignment": map[string]any{
			"artist_id":           "artist-ben",
			"artist_name":         "Ben",
			"match_score":         5,
			"reason":              "manual",
			"alternative_artists": []any{},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record status %d: %s", res.StatusCode, string(data))
	}
	var d domain.Decision
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Status != "success" {
		t.Fatalf("expected derived success, got %s", d.Status)
	}
	if d.DecisionID == "" {
		t.Fatalf("expected assigned decision id")
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/requests/req-001/process", nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("process status %d: %s", res.StatusCode, string(data))
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=decision.recorded", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var events []EventResponse
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one decision.recorded event, got %d", len(events))
	}
}
