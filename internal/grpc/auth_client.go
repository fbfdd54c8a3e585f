package grpc

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"whatsapp-inbox/internal/models"
)

// IntrospectMethod takes the raw token as a StringValue and answers with a
// Struct carrying "valid", "user_id" and "role".
const IntrospectMethod = "/auth.TokenIntrospection/Introspect"

var ErrInvalidToken = errors.New("invalid token")

// AuthClient validates dashboard tokens against the auth service.
type AuthClient struct {
	conn *grpc.ClientConn
}

// Dial connects to the auth service at addr.
func Dial(addr string) (*AuthClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial auth grpc: %w", err)
	}
	return &AuthClient{conn: conn}, nil
}

// NewAuthClient wraps an existing connection.
func NewAuthClient(conn *grpc.ClientConn) *AuthClient {
	return &AuthClient{conn: conn}
}

// ValidateToken verifies the token and returns the authenticated identity.
func (a *AuthClient) ValidateToken(ctx context.Context, token string) (models.Identity, error) {
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, IntrospectMethod, wrapperspb.String(token), resp); err != nil {
		return models.Identity{}, err
	}
	return identityFromStruct(resp)
}

func (a *AuthClient) Close() error {
	return a.conn.Close()
}

func identityFromStruct(resp *structpb.Struct) (models.Identity, error) {
	fields := resp.GetFields()
	if !fields["valid"].GetBoolValue() {
		return models.Identity{}, ErrInvalidToken
	}
	userID := int(fields["user_id"].GetNumberValue())
	role := fields["role"].GetStringValue()
	if userID == 0 || role == "" {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{UserID: userID, Role: role}, nil
}
