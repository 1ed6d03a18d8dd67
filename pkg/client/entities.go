package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/picogrid/legion-missions/pkg/models"
)

// CreateEntity registers a new entity, a drone in this module
func (c *Legion) CreateEntity(ctx context.Context, req *models.CreateEntityRequest) (*models.EntityResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v3/entities", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	var entity models.EntityResponse
	if err := decodeResponse(resp, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode entity response: %w", err)
	}

	return &entity, nil
}
