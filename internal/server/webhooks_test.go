package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"assetline/internal/config"
	"assetline/internal/dataset"
	"assetline/internal/db"
	"assetline/internal/domain"
	"assetline/internal/engine"
	"assetline/internal/migrate"
)

type capturedDelivery struct {
	header http.Header
	body   []byte
}

func newWebhookEngine(t *testing.T) (engine.Engine, func()) {
	t.Helper()
	workspace := t.TempDir()
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
			{ID: "req-001", Account: "ArcadiaXR", Style: "stylized", Engine: "unreal"},
		},
		Artists: []domain.Artist{
			{ID: "artist-ben", Name: "Ben", Skills: []string{"unreal", "stylized"}, CapacityConcurrent: 3, ActiveLoad: 1},
		},
		Presets: map[string]domain.Preset{
			"ArcadiaXR": {Version: 3, Packing: map[string]string{"r": "ao", "g": "roughness", "b": "metallic", "a": "opacity"}},
		},
	}); err != nil {
		t.Fatalf("import dataset: %v", err)
	}
	return e, func() { conn.Close() }
}

func TestWebhookDeliveryShape(t *testing.T) {
	e, cleanup := newWebhookEngine(t)
	defer cleanup()

	if _, err := e.ProcessRequest(context.Background(), "req-001"); err != nil {
		t.Fatalf("process: %v", err)
	}

	var mu sync.Mutex
	var deliveries []capturedDelivery
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		deliveries = append(deliveries, capturedDelivery{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	d := &webhookDispatcher{
		engine:   e,
		webhooks: []config.WebhookConfig{{URL: sink.URL, Secret: "s3cret"}},
		client:   &http.Client{Timeout: time.Second},
		cursors:  map[int]int64{0: 0},
	}
	d.dispatchAll()

	mu.Lock()
	defer mu.Unlock()
	if len(deliveries) == 0 {
		t.Fatalf("expected deliveries")
	}
	sawDecision := false
	for _, del := range deliveries {
		var body struct {
			ID        int64          `json:"id"`
			Type      string         `json:"type"`
			Timestamp string         `json:"timestamp"`
			Payload   map[string]any `json:"payload"`
		}
		if err := json.Unmarshal(del.body, &body); err != nil {
			t.Fatalf("unmarshal delivery: %v: %s", err, string(del.body))
		}
		if body.Type == "" {
			t.Fatalf("missing type: %s", string(del.body))
		}
		if body.Timestamp == "" {
			t.Fatalf("missing timestamp: %s", string(del.body))
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(del.body, &raw); err != nil {
			t.Fatalf("unmarshal raw delivery: %v", err)
		}
		if _, ok := raw["payload"]; !ok {
			t.Fatalf("missing payload field: %s", string(del.body))
		}
		if _, ok := raw["ts"]; ok {
			t.Fatalf("delivery carries ts instead of timestamp: %s", string(del.body))
		}
		if got := del.header.Get("X-Assetline-Event"); got != body.Type {
			t.Fatalf("event header %q does not match type %q", got, body.Type)
		}
		if got := del.header.Get("X-Assetline-Secret"); got != "s3cret" {
			t.Fatalf("unexpected secret header %q", got)
		}
		if body.Type == "decision.recorded" {
			sawDecision = true
		}
	}
	if !sawDecision {
		t.Fatalf("expected a decision.recorded delivery")
	}
}

func TestWebhookEventFilterSkipsUnmatched(t *testing.T) {
	e, cleanup := newWebhookEngine(t)
	defer cleanup()

	if _, err := e.ProcessRequest(context.Background(), "req-001"); err != nil {
		t.Fatalf("process: %v", err)
	}

	var mu sync.Mutex
	var types []string
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		types = append(types, r.Header.Get("X-Assetline-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	d := &webhookDispatcher{
		engine:   e,
		webhooks: []config.WebhookConfig{{URL: sink.URL, Events: []string{"decision.recorded"}}},
		client:   &http.Client{Timeout: time.Second},
		cursors:  map[int]int64{0: 0},
	}
	d.dispatchAll()

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 1 || types[0] != "decision.recorded" {
		t.Fatalf("expected a single decision.recorded delivery, got %v", types)
	}
}
