package testutils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rongwang/groupledger/internal/api"
	"github.com/rongwang/groupledger/internal/lock"
	"github.com/rongwang/groupledger/internal/models"
	"github.com/rongwang/groupledger/internal/repository"
	"github.com/rongwang/groupledger/internal/service"
)

const (
	TestClientID     = "telegram-adapter"
	TestClientSecret = "adapter-secret"
	TestOwner        = "boss"
	TestOperator     = "@Opal"
	TestGroup        = "-100123"
)

// Clock is a settable time source shared by the service under test
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// TestContext holds all dependencies for tests
type TestContext struct {
	Router     *gin.Engine
	Repository *repository.DocumentRepository
	Service    service.Service
	Clock      *Clock
	JWTSecret  []byte
	Token      string
}

// Option customises the router built by SetupTestContext
type Option func(h *api.Handler)

// SetupTestContext wires the service over an in-memory store and issues an
// adapter token through the API
func SetupTestContext(t *testing.T, opts ...Option) *TestContext {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(TestClientSecret), bcrypt.MinCost)
	require.NoError(t, err, "Failed to hash client secret")

	secret := "test-secret-key"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &Clock{t: time.Now().UTC().Truncate(time.Second)}

	repo := repository.NewDocumentRepository(repository.NewMemoryStore(), []string{TestOperator})
	svc := service.NewDefaultService(repo, lock.NewKeyedMutex(), service.Config{
		Owner:            TestOwner,
		JWTSecret:        secret,
		ClientID:         TestClientID,
		ClientSecretHash: string(hash),
	},
		service.WithNow(clock.Now),
		service.WithLogger(logger),
	)

	handler := api.NewHandler(svc, logger)
	for _, opt := range opts {
		opt(handler)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(api.AdapterAuth([]byte(secret), TestClientID))
	handler.SetupRoutes(router)

	w := PerformRequest(router, http.MethodPost, "/api/auth/token", models.TokenRequest{
		ClientID:     TestClientID,
		ClientSecret: TestClientSecret,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, "Failed to issue adapter token: %s", w.Body.String())

	var token models.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))

	return &TestContext{
		Router:     router,
		Repository: repo,
		Service:    svc,
		Clock:      clock,
		JWTSecret:  []byte(secret),
		Token:      token.Token,
	}
}

// Do performs an authenticated request against the router
func (tc *TestContext) Do(method, path string, body interface{}) *httptest.ResponseRecorder {
	return PerformRequest(tc.Router, method, path, body, AuthHeaders(tc.Token))
}

// Deposit records a deposit through the service, bypassing HTTP
func (tc *TestContext) Deposit(t *testing.T, actor string, amount float64) {
	t.Helper()
	_, err := tc.Service.Deposit(context.Background(), TestGroup, models.TransactionRequest{
		ActorName: actor,
		Amount:    amount,
	})
	require.NoError(t, err)
}

// GroupPath builds a path under /api/groups/<TestGroup>
func GroupPath(suffix string) string {
	return fmt.Sprintf("/api/groups/%s%s", TestGroup, suffix)
}

// PerformRequest executes an HTTP request against the router
func PerformRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer

	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// AuthHeaders returns headers with Authorization token
func AuthHeaders(token string) map[string]string {
	return map[string]string{
		"Authorization": fmt.Sprintf("Bearer %s", token),
	}
}
