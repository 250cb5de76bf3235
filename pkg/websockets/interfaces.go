package websockets

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
)

// ConnectionManager defines the interface for managing WebSocket connections.
type ConnectionManager interface {
	AddConnection(ctx context.Context, connectionID, userID string) error
	RemoveConnection(ctx context.Context, connectionID string) error
}

// ConnectionLister returns the open connections of a user.
type ConnectionLister interface {
	GetConnections(ctx context.Context, userID string) ([]string, error)
}

// Publisher defines the interface for publishing messages to a user's WebSocket clients.
type Publisher interface {
	Publish(ctx context.Context, userID string, message Message) error
}

// PostToConnectionAPI is the subset of the API Gateway management client the publisher needs.
type PostToConnectionAPI interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// NoOpPublisher drops every message.
type NoOpPublisher struct{}

func (p *NoOpPublisher) Publish(ctx context.Context, userID string, message Message) error {
	return nil
}
