package websockets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
)

// APIGWPublisher pushes messages through an API Gateway websocket API.
type APIGWPublisher struct {
	Connections ConnectionLister
	ConnManager ConnectionManager
	Client      PostToConnectionAPI
}

// NewPublisher creates an APIGWPublisher that posts to the given websocket API endpoint.
func NewPublisher(ctx context.Context, store ConnectionLister, connManager ConnectionManager, apiEndpoint string) (*APIGWPublisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(apiEndpoint)
	})

	return &APIGWPublisher{
		Connections: store,
		ConnManager: connManager,
		Client:      client,
	}, nil
}

// Make sure we conform to the interface
var _ Publisher = (*APIGWPublisher)(nil)

// Publish sends a message to every open connection of the user. Connections
// the gateway reports as gone are removed; other delivery errors are logged.
func (p *APIGWPublisher) Publish(ctx context.Context, userID string, message Message) error {
	connectionIDs, err := p.Connections.GetConnections(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get connections: %w", err)
	}
	if len(connectionIDs) == 0 {
		return nil
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	for _, connectionID := range connectionIDs {
		_, err := p.Client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         payload,
		})

		if err != nil {
			var goneErr *apigwtypes.GoneException
			if errors.As(err, &goneErr) {
				slog.Info("stale connection found, deleting", "connectionId", connectionID)
				if err := p.ConnManager.RemoveConnection(ctx, connectionID); err != nil {
					slog.Error("failed to delete stale connection", "error", err)
				}
			} else {
				slog.Error("failed to post to connection", "connectionId", connectionID, "error", err)
			}
		}
	}

	return nil
}
