package models

import (
	"time"

	"github.com/google/uuid"
)

// GeomPoint is a GeoJSON point. Legion positions are ECEF meters
// (EPSG 4978), so Coordinates holds [x, y, z].
type GeomPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// NewECEFPoint builds a GeoJSON point from ECEF coordinates
func NewECEFPoint(x, y, z float64) *GeomPoint {
	return &GeomPoint{Type: "Point", Coordinates: []float64{x, y, z}}
}

// CreateEntityLocationRequest is the body of POST /v3/entities/{id}/locations
type CreateEntityLocationRequest struct {
	Position *GeomPoint `json:"position"`
	// Orientation quaternion [w, x, y, z]
	Orientation *[]float32 `json:"orientation,omitempty"`
	// RecordedAt is when the sender observed the position
	RecordedAt *time.Time `json:"recorded_at"`
}

// EntityLocationResponse is a stored entity location
type EntityLocationResponse struct {
	ID          uuid.UUID  `json:"id"`
	EntityID    uuid.UUID  `json:"entity_id"`
	Position    *GeomPoint `json:"position"`
	Orientation *[]float32 `json:"orientation,omitempty"`
	RecordedAt  *time.Time `json:"recorded_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
