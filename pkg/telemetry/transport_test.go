package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/picogrid/legion-missions/pkg/models"
)

func TestMQTTFeedHandleMessage(t *testing.T) {
	mx, _ := newTestMux()
	feed := NewMQTTFeed(MQTTConfig{Broker: "tcp://localhost:1883"}, mx)

	tests := []struct {
		name        string
		topic       string
		payload     string
		wantErr     bool
		wantLat     float64
		wantHeading float64
		drone       string
	}{
		{"drone id from topic", "drones/alpha/telemetry", `{"lat":12.5,"lng":77.1,"battery":80,"heading":45}`, false, 12.5, 45, "alpha"},
		{"drone id from payload", "drones/ignored/telemetry", `{"droneId":"bravo","lat":3}`, false, 3, 0, "bravo"},
		{"negative heading", "drones/delta/telemetry", `{"lat":1,"heading":-90}`, false, 1, 270, "delta"},
		{"full turn heading", "drones/echo/telemetry", `{"lat":1,"heading":360}`, false, 1, 0, "echo"},
		{"wrapped heading", "drones/foxtrot/telemetry", `{"lat":1,"heading":725}`, false, 1, 5, "foxtrot"},
		{"malformed json", "drones/charlie/telemetry", `{"lat":`, true, 0, 0, ""},
		{"no drone id", "other", `{"lat":1}`, true, 0, 0, ""},
		{"latitude out of range", "drones/golf/telemetry", `{"lat":95,"lng":10}`, true, 0, 0, "golf"},
		{"longitude out of range", "drones/hotel/telemetry", `{"lat":10,"lng":-190}`, true, 0, 0, "hotel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := feed.HandleMessage(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if tt.wantErr {
				if tt.drone != "" {
					if got, ok := mx.Latest(tt.drone); ok {
						t.Errorf("Expected no snapshot for rejected message, got %+v", got)
					}
				}
				return
			}
			got, ok := mx.Latest(tt.drone)
			if !ok || got.Lat != tt.wantLat || got.Source != SourceExternal {
				t.Errorf("Expected external snapshot with lat %v, got %+v", tt.wantLat, got)
			}
			if math.Abs(got.HeadingDegrees-tt.wantHeading) > 1e-9 {
				t.Errorf("Expected heading %v, got %v", tt.wantHeading, got.HeadingDegrees)
			}
			if got.HeadingDegrees < 0 || got.HeadingDegrees >= 360 {
				t.Errorf("Expected heading in [0,360), got %v", got.HeadingDegrees)
			}
		})
	}

	received, rejected := feed.Stats()
	if received != 9 || rejected != 4 {
		t.Errorf("Expected 9 received and 4 rejected, got %d/%d", received, rejected)
	}
}

func TestMQTTFeedNoData(t *testing.T) {
	mx, clk := newTestMux()
	feed := NewMQTTFeed(MQTTConfig{}, mx)

	if err := feed.HandleMessage("drones/x/telemetry", []byte(`{"lat":1}`)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := feed.HandleMessage("drones/x/telemetry", []byte(`{"noData":true}`)); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	clk.advance(100 * time.Millisecond)
	if !mx.PushSimulated(Snapshot{DroneID: "x"}) {
		t.Error("Expected simulated output after no-data message")
	}
}

func TestHubStreamsSnapshots(t *testing.T) {
	for _, format := range []string{"json", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			mx := NewMultiplexer(Options{MinInterval: time.Millisecond})
			mx.PushSimulated(Snapshot{DroneID: "d1", Lat: 1})

			hub := NewHub(mx)
			srv := httptest.NewServer(hub)
			defer srv.Close()
			defer hub.Close()

			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?format=" + format
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Fatalf("Failed to dial: %v", err)
			}
			defer conn.Close()

			read := func() Snapshot {
				t.Helper()
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				kind, b, err := conn.ReadMessage()
				if err != nil {
					t.Fatalf("Failed to read: %v", err)
				}
				var s Snapshot
				if format == "msgpack" {
					if kind != websocket.BinaryMessage {
						t.Fatalf("Expected binary frame, got %d", kind)
					}
					err = msgpack.Unmarshal(b, &s)
				} else {
					err = json.Unmarshal(b, &s)
				}
				if err != nil {
					t.Fatalf("Failed to decode frame: %v", err)
				}
				return s
			}

			if s := read(); s.DroneID != "d1" || s.Lat != 1 {
				t.Errorf("Expected initial snapshot for d1, got %+v", s)
			}

			// The subscription is registered before the initial state is sent.
			if hub.Clients() != 1 {
				t.Errorf("Expected 1 client, got %d", hub.Clients())
			}
			mx.PushExternal(Snapshot{DroneID: "d2", Lat: 2})

			if s := read(); s.DroneID != "d2" || s.Source != SourceExternal {
				t.Errorf("Expected live external snapshot for d2, got %+v", s)
			}
		})
	}
}

type fakeLegion struct {
	mu        sync.Mutex
	entities  int
	locations map[string][]*models.CreateEntityLocationRequest
	failNext  bool
}

func (f *fakeLegion) CreateEntity(_ context.Context, req *models.CreateEntityRequest) (*models.EntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities++
	return &models.EntityResponse{ID: uuid.New(), Name: req.Name, Category: req.Category}, nil
}

func (f *fakeLegion) CreateEntityLocation(_ context.Context, entityID string, req *models.CreateEntityLocationRequest) (*models.EntityLocationResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("HTTP 503: unavailable")
	}
	if f.locations == nil {
		f.locations = make(map[string][]*models.CreateEntityLocationRequest)
	}
	f.locations[entityID] = append(f.locations[entityID], req)
	return &models.EntityLocationResponse{}, nil
}

func TestPublisherKeepsNewestPerDrone(t *testing.T) {
	api := &fakeLegion{}
	pub := NewPublisher(api, PublisherConfig{OrganizationID: uuid.NewString()})

	base := time.Now()
	pub.Queue(Snapshot{DroneID: "d1", Lat: 1, Timestamp: base})
	pub.Queue(Snapshot{DroneID: "d1", Lat: 2, Timestamp: base.Add(time.Second)})
	pub.Queue(Snapshot{DroneID: "d1", Lat: 0.5, Timestamp: base.Add(-time.Second)})
	pub.Queue(Snapshot{DroneID: "d2", Lat: 3, Timestamp: base})

	if pub.Stats().Pending != 2 {
		t.Fatalf("Expected 2 pending, got %d", pub.Stats().Pending)
	}
	if err := pub.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if api.entities != 2 {
		t.Errorf("Expected 2 entities created, got %d", api.entities)
	}
	total := 0
	for _, reqs := range api.locations {
		total += len(reqs)
		for _, r := range reqs {
			if r.Position == nil || r.Position.Type != "Point" || len(r.Position.Coordinates) != 3 {
				t.Errorf("Expected ECEF point, got %+v", r.Position)
			}
		}
	}
	if total != 2 || pub.Stats().LocationsSent != 2 {
		t.Errorf("Expected 2 locations sent, got %d", total)
	}

	// Entities are created once per drone.
	pub.Queue(Snapshot{DroneID: "d1", Lat: 4, Timestamp: base.Add(2 * time.Second)})
	if err := pub.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if api.entities != 2 {
		t.Errorf("Expected entity reuse, got %d creations", api.entities)
	}
}

func TestPublisherRequeuesFailures(t *testing.T) {
	api := &fakeLegion{failNext: true}
	known := uuid.New()
	pub := NewPublisher(api, PublisherConfig{Entities: map[string]uuid.UUID{"d1": known}})

	pub.Queue(Snapshot{DroneID: "d1", Timestamp: time.Now()})
	if err := pub.Flush(context.Background()); err == nil {
		t.Fatal("Expected flush error")
	}
	if st := pub.Stats(); st.Pending != 1 || st.Failures != 1 {
		t.Errorf("Expected failed snapshot re-queued, got %+v", st)
	}

	if err := pub.Flush(context.Background()); err != nil {
		t.Fatalf("Retry flush failed: %v", err)
	}
	if len(api.locations[known.String()]) != 1 {
		t.Errorf("Expected location written to existing entity, got %v", api.locations)
	}
	if api.entities != 0 {
		t.Errorf("Expected no entity creation for a mapped drone, got %d", api.entities)
	}
}
