package service

import (
	"context"
	"errors"
	"fmt"

	"finrecon/internal/dto"
	"finrecon/internal/models"
	"finrecon/internal/repository"
	"finrecon/pkg/auth"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type ServiceClientStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceClient, error)
}

// AuthService issues bearer tokens to service clients (schedulers,
// upload pipelines) that trigger processing.
type AuthService struct {
	clients    ServiceClientStore
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

func NewAuthService(clients ServiceClientStore, jwtManager *auth.JWTManager, logger *zap.Logger) *AuthService {
	return &AuthService{
		clients:    clients,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

func (s *AuthService) IssueToken(ctx context.Context, req *dto.TokenRequest) (*dto.TokenResponse, error) {
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	client, err := s.clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load service client: %w", err)
	}

	if !auth.CheckSecretHash(req.ClientSecret, client.SecretHash) {
		s.logger.Warn("Rejected client credentials", zap.String("client_id", clientID.String()))
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwtManager.GenerateToken(client.ID.String(), client.Name)
	if err != nil {
		return nil, err
	}

	return &dto.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtManager.GetTokenDuration().Seconds()),
	}, nil
}
