package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/picogrid/legion-missions/pkg/client"
	"github.com/picogrid/legion-missions/pkg/geo"
	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/models"
)

const (
	DefaultFlushInterval = time.Second
	DefaultMaxConcurrent = 10
)

// LegionAPI is the part of the Legion client the publisher needs
type LegionAPI interface {
	CreateEntity(ctx context.Context, req *models.CreateEntityRequest) (*models.EntityResponse, error)
	CreateEntityLocation(ctx context.Context, entityID string, req *models.CreateEntityLocationRequest) (*models.EntityLocationResponse, error)
}

var _ LegionAPI = (*client.Legion)(nil)

// PublisherConfig configures a Publisher
type PublisherConfig struct {
	OrganizationID string
	FlushInterval  time.Duration
	MaxConcurrent  int
	// Entities maps drone ids to existing Legion entities. Drones without
	// an entry get one created on first flush.
	Entities map[string]uuid.UUID
}

// PublisherStats tracks what the publisher has sent
type PublisherStats struct {
	Pending       int
	LocationsSent int64
	Failures      int64
	LastFlush     time.Time
}

// Publisher forwards multiplexed snapshots to Legion as entity locations.
// Between flushes only the newest snapshot per drone is kept.
type Publisher struct {
	api LegionAPI
	cfg PublisherConfig
	log logger.Logger

	mu        sync.Mutex
	pending   map[string]Snapshot
	entities  map[string]uuid.UUID
	lastFlush time.Time

	sent     atomic.Int64
	failures atomic.Int64
}

// NewPublisher creates a publisher writing through api
func NewPublisher(api LegionAPI, cfg PublisherConfig) *Publisher {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	entities := make(map[string]uuid.UUID, len(cfg.Entities))
	for k, v := range cfg.Entities {
		entities[k] = v
	}
	return &Publisher{
		api:      api,
		cfg:      cfg,
		log:      logger.Default().WithPrefix("legion"),
		pending:  make(map[string]Snapshot),
		entities: entities,
	}
}

// Queue stores a snapshot, replacing any older one for the same drone
func (p *Publisher) Queue(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.pending[s.DroneID]; ok && cur.Timestamp.After(s.Timestamp) {
		return
	}
	p.pending[s.DroneID] = s
}

// Run queues snapshots from updates and flushes on every interval until
// ctx is done or updates is closed. A final flush runs on the way out.
func (p *Publisher) Run(ctx context.Context, updates <-chan Snapshot) error {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return p.finalFlush()
		case s, ok := <-updates:
			if !ok {
				return p.finalFlush()
			}
			p.Queue(s)
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.log.Errorf("Error flushing locations: %v", err)
			}
		}
	}
}

func (p *Publisher) finalFlush() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Flush(ctx)
}

// Flush sends every pending snapshot. Failed snapshots are re-queued
// unless a newer one arrived in the meantime.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.pending
	p.pending = make(map[string]Snapshot)
	p.lastFlush = time.Now()
	p.mu.Unlock()

	orgCtx := client.WithOrgID(ctx, p.cfg.OrganizationID)

	var failed atomic.Int64
	var firstErr error
	var errOnce sync.Once

	g := new(errgroup.Group)
	g.SetLimit(p.cfg.MaxConcurrent)
	for _, s := range batch {
		g.Go(func() error {
			if err := p.send(orgCtx, s); err != nil {
				failed.Add(1)
				p.failures.Add(1)
				errOnce.Do(func() { firstErr = err })
				p.requeue(s)
				return nil
			}
			p.sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		p.log.Errorf("Failed to send %d/%d locations", n, len(batch))
		return firstErr
	}
	p.log.Debugf("Flushed %d locations", len(batch))
	return nil
}

func (p *Publisher) requeue(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, newer := p.pending[s.DroneID]; !newer {
		p.pending[s.DroneID] = s
	}
}

func (p *Publisher) send(ctx context.Context, s Snapshot) error {
	entityID, err := p.entityFor(ctx, s.DroneID)
	if err != nil {
		return err
	}

	x, y, z := geo.ToECEF(geo.Point{Lat: s.Lat, Lng: s.Lng}, s.AltitudeMeters)
	recorded := s.Timestamp
	req := &models.CreateEntityLocationRequest{
		Position:   models.NewECEFPoint(x, y, z),
		RecordedAt: &recorded,
	}
	if _, err := p.api.CreateEntityLocation(ctx, entityID.String(), req); err != nil {
		return fmt.Errorf("location for %s: %w", s.DroneID, err)
	}
	return nil
}

func (p *Publisher) entityFor(ctx context.Context, droneID string) (uuid.UUID, error) {
	p.mu.Lock()
	id, ok := p.entities[droneID]
	p.mu.Unlock()
	if ok {
		return id, nil
	}

	orgID, err := uuid.Parse(p.cfg.OrganizationID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid organization id %q: %w", p.cfg.OrganizationID, err)
	}
	meta, err := json.Marshal(map[string]interface{}{
		"drone_id":  droneID,
		"simulator": "legion-missions",
	})
	if err != nil {
		return uuid.Nil, err
	}
	raw := json.RawMessage(meta)

	resp, err := p.api.CreateEntity(ctx, &models.CreateEntityRequest{
		OrganizationID: orgID,
		Name:           droneID,
		Category:       models.CATEGORY_UXV,
		Type:           "Drone",
		Status:         "active",
		Metadata:       &raw,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create entity for %s: %w", droneID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.entities[droneID]; ok {
		return existing, nil
	}
	p.entities[droneID] = resp.ID
	p.log.Infof("Registered drone %s as entity %s", droneID, resp.ID)
	return resp.ID, nil
}

// Stats returns a snapshot of publisher counters
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublisherStats{
		Pending:       len(p.pending),
		LocationsSent: p.sent.Load(),
		Failures:      p.failures.Load(),
		LastFlush:     p.lastFlush,
	}
}
