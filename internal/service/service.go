package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/rongwang/groupledger/internal/authz"
	"github.com/rongwang/groupledger/internal/lock"
	"github.com/rongwang/groupledger/internal/models"
	"github.com/rongwang/groupledger/internal/report"
	"github.com/rongwang/groupledger/internal/repository"
)

var (
	// ErrInvalidRequest covers malformed command input such as an unknown timezone
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidCredentials rejects a token request
	ErrInvalidCredentials = errors.New("invalid client credentials")
)

// authLockKey serialises mutations of the global authorization document
const authLockKey = "auth"

// Service defines all the business logic operations
type Service interface {
	// Adapter authentication
	IssueToken(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, error)

	// Ledger operations
	Deposit(ctx context.Context, groupID string, req models.TransactionRequest) (*models.TransactionResponse, error)
	Disburse(ctx context.Context, groupID string, req models.TransactionRequest) (*models.TransactionResponse, error)
	Reverse(ctx context.Context, groupID string, req models.ReversalRequest) (*models.TransactionResponse, error)
	CheckLedger(ctx context.Context, groupID, actor string) (*models.TextResponse, error)
	ClearToday(ctx context.Context, groupID, actor string) (*models.TextResponse, error)
	// Rollover with an empty actor is the scheduler's call and skips authorization.
	Rollover(ctx context.Context, groupID, actor string) (*models.RolloverResponse, error)

	// Group configuration
	SetFeeRate(ctx context.Context, groupID string, req models.FeeRateRequest) (*models.TextResponse, error)
	SetExchangeRate(ctx context.Context, groupID string, req models.ExchangeRateRequest) (*models.TextResponse, error)
	SetTimezone(ctx context.Context, groupID string, req models.TimezoneRequest) (*models.TextResponse, error)
	ListGroups(ctx context.Context) ([]models.GroupConfig, error)

	// Authorization
	Grant(ctx context.Context, groupID string, req models.GrantRequest) (*models.TextResponse, error)
	Revoke(ctx context.Context, groupID, grantor, target string) (*models.TextResponse, error)
	AuthorizeGroup(ctx context.Context, groupID string, req models.GroupAccessRequest) (*models.TextResponse, error)
	RevokeGroup(ctx context.Context, groupID, grantor string) (*models.TextResponse, error)
	IsAuthorized(ctx context.Context, groupID, principal string) (*models.AuthorizedResponse, error)
	ListGrants(ctx context.Context, groupID, actor string) (*models.TextResponse, error)
	DescribeExpiry(ctx context.Context, groupID, principal string) (*models.TextResponse, error)
	AddOperator(ctx context.Context, req models.OperatorRequest) (*models.TextResponse, error)
	RemoveOperator(ctx context.Context, actor, target string) (*models.TextResponse, error)

	// Reporting
	Report(ctx context.Context, groupID, actor string) (*report.Report, error)
	// ExportReport with an empty actor is the scheduler's call and skips authorization.
	ExportReport(ctx context.Context, groupID, actor string) ([]byte, error)
}

// Config carries the settings DefaultService needs from the environment
type Config struct {
	Owner            string
	JWTSecret        string
	ClientID         string
	ClientSecretHash string
	TokenTTL         time.Duration
}

// Option customises a DefaultService
type Option func(*DefaultService)

// WithNow overrides the clock
func WithNow(now func() time.Time) Option {
	return func(s *DefaultService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *DefaultService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo      repository.Repository
	locker    lock.Locker
	authority *authz.Authority
	exports   singleflight.Group

	jwtSecret        []byte
	clientID         string
	clientSecretHash []byte
	tokenDuration    time.Duration

	now    func() time.Time
	logger *slog.Logger
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, locker lock.Locker, cfg Config, opts ...Option) Service {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	s := &DefaultService{
		repo:             repo,
		locker:           locker,
		authority:        authz.New(cfg.Owner),
		jwtSecret:        []byte(cfg.JWTSecret),
		clientID:         cfg.ClientID,
		clientSecretHash: []byte(cfg.ClientSecretHash),
		tokenDuration:    ttl,
		now:              time.Now,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueToken exchanges the adapter's client credentials for a JWT
func (s *DefaultService) IssueToken(ctx context.Context, req models.TokenRequest) (*models.TokenResponse, error) {
	if s.clientID == "" || req.ClientID != s.clientID {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.clientSecretHash, []byte(req.ClientSecret)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.generateJWT(req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.TokenResponse{
		Status:    "success",
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

// Helper methods
func (s *DefaultService) generateJWT(subject string) (string, error) {
	issuedAt := s.now()

	claims := jwt.MapClaims{
		"sub": subject,
		"exp": issuedAt.Add(s.tokenDuration).Unix(),
		"iat": issuedAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// withLock runs fn while holding the lock for key
func (s *DefaultService) withLock(ctx context.Context, key string, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("error acquiring lock %s: %w", key, err)
	}
	defer unlock()
	return fn()
}

// authorize fails with authz.ErrUnauthorized unless actor holds an active tier
// in groupID. It takes the auth lock because an expired group window is
// switched off as a side effect; callers must not hold a group lock.
func (s *DefaultService) authorize(ctx context.Context, groupID, actor string) error {
	var authorized bool
	err := s.withLock(ctx, authLockKey, func() error {
		doc, err := s.repo.GetAuthDocument(ctx)
		if err != nil {
			return fmt.Errorf("error loading auth document: %w", err)
		}

		var changed bool
		authorized, changed = s.authority.IsAuthorized(doc, actor, groupID, s.now())
		if changed {
			if err := s.repo.SaveAuthDocument(ctx, doc); err != nil {
				return fmt.Errorf("error saving auth document: %w", err)
			}
			s.logger.Info("group access expired", slog.String("group", groupID))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !authorized {
		return authz.ErrUnauthorized
	}
	return nil
}

func (s *DefaultService) loadGroup(ctx context.Context, groupID string) (*models.LedgerDocument, *models.GroupConfig, error) {
	doc, err := s.repo.GetLedger(ctx, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading ledger: %w", err)
	}
	cfg, err := s.repo.GetGroupConfig(ctx, groupID)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading group config: %w", err)
	}
	return doc, cfg, nil
}
