package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AgentProfile is the stored configuration for an agent: its system prompt
// and model settings. Traces snapshot these fields at creation.
type AgentProfile struct {
	ID          uuid.UUID
	Name        string
	Slug        string
	Description string

	SystemPrompt string
	ModelConfig  map[string]any

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AgentProfileRepository stores agent configurations.
type AgentProfileRepository interface {
	Create(ctx context.Context, p *AgentProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*AgentProfile, error)
	GetBySlug(ctx context.Context, slug string) (*AgentProfile, error)
}
