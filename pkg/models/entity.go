package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CreateEntityRequest is the body of POST /v3/entities
type CreateEntityRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Category       Category  `json:"category"`
	// Type narrows the category, "Drone" for mission drones
	Type     string           `json:"type"`
	Status   string           `json:"status"`
	Metadata *json.RawMessage `json:"metadata,omitempty"`
}

// EntityResponse is an entity as returned by the API
type EntityResponse struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	Name           string           `json:"name"`
	Category       Category         `json:"category"`
	Type           string           `json:"type"`
	Status         string           `json:"status"`
	Metadata       *json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	DeletedAt      *time.Time       `json:"deleted_at,omitempty"`
}
