package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/glassbox/internal/domain"
)

type BlockClientInput struct {
	ID   uuid.UUID `path:"id" doc:"Anonymous client record ID"`
	Body struct {
		Reason string `json:"reason" minLength:"1" maxLength:"500" doc:"Why the client is being blocked"`
	}
}

type BlockClientOutput struct {
	Body struct {
		ID      uuid.UUID `json:"id"`
		Blocked bool      `json:"blocked"`
		Reason  string    `json:"reason"`
	}
}

// RegisterClientRoutes wires the admin surface for anonymous clients.
func RegisterClientRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "block-client",
		Method:      http.MethodPost,
		Path:        "/clients/{id}/block",
		Summary:     "Block an anonymous client",
		Tags:        []string{"Clients"},
	}, func(ctx context.Context, input *BlockClientInput) (*BlockClientOutput, error) {
		if err := store.Clients().Block(ctx, input.ID, input.Body.Reason); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("client not found")
			}
			return nil, huma.Error500InternalServerError("failed to block client")
		}

		out := &BlockClientOutput{}
		out.Body.ID = input.ID
		out.Body.Blocked = true
		out.Body.Reason = input.Body.Reason
		return out, nil
	})
}
