package service_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/rongwang/groupledger/internal/authz"
	"github.com/rongwang/groupledger/internal/ledger"
	"github.com/rongwang/groupledger/internal/lock"
	"github.com/rongwang/groupledger/internal/models"
	"github.com/rongwang/groupledger/internal/repository"
	"github.com/rongwang/groupledger/internal/service"
)

const group = "-100123"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   service.Service
	repo  *repository.DocumentRepository
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("adapter-secret"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := repository.NewDocumentRepository(repository.NewMemoryStore(), []string{"@Opal"})
	c := &clock{t: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}
	svc := service.NewDefaultService(repo, lock.NewKeyedMutex(), service.Config{
		Owner:            "boss",
		JWTSecret:        "test-secret",
		ClientID:         "telegram-adapter",
		ClientSecretHash: string(hash),
	},
		service.WithNow(c.Now),
		service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return &fixture{svc: svc, repo: repo, clock: c}
}

func days(n int) *int { return &n }

func pct(v float64) *float64 { return &v }

func TestIssueToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.IssueToken(ctx, models.TokenRequest{ClientID: "telegram-adapter", ClientSecret: "adapter-secret"})
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 86400, resp.ExpiresIn)

	token, err := jwt.Parse(resp.Token, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	}, jwt.WithTimeFunc(f.clock.Now))
	require.NoError(t, err)
	sub, err := token.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "telegram-adapter", sub)

	_, err = f.svc.IssueToken(ctx, models.TokenRequest{ClientID: "telegram-adapter", ClientSecret: "wrong"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = f.svc.IssueToken(ctx, models.TokenRequest{ClientID: "other", ClientSecret: "adapter-secret"})
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestDepositRequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "stranger", Amount: 100})
	assert.ErrorIs(t, err, authz.ErrUnauthorized)

	doc, err := f.repo.GetLedger(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, doc.Transactions)
}

func TestLedgerFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetFeeRate(ctx, group, models.FeeRateRequest{Actor: "boss", Percent: pct(5)})
	require.NoError(t, err)
	_, err = f.svc.SetExchangeRate(ctx, group, models.ExchangeRateRequest{Actor: "opal", Currency: "usd", Rate: pct(25000)})
	require.NoError(t, err)

	resp, err := f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "@Opal", Amount: 1000000})
	require.NoError(t, err)
	assert.Equal(t, 1000000.0, resp.TotalIn)
	assert.Equal(t, "08:00:00", resp.Transaction.Timestamp)

	resp, err = f.svc.Disburse(ctx, group, models.TransactionRequest{ActorName: "opal", Amount: 30, CurrencyTag: "U"})
	require.NoError(t, err)
	assert.InDelta(t, 750000.0, resp.TotalOut, 1e-6)
	assert.InDelta(t, 30.0, resp.CurrencyOut, 1e-9)
	assert.Contains(t, resp.Text, "未下发：200000.00 | 8.00U")

	_, err = f.svc.Disburse(ctx, group, models.TransactionRequest{ActorName: "opal", Amount: 10, CurrencyTag: "U"})
	var balanceErr *ledger.InsufficientBalanceError
	require.True(t, errors.As(err, &balanceErr))
	assert.InDelta(t, 8.0, balanceErr.Available, 1e-9)

	check, err := f.svc.CheckLedger(ctx, group, "boss")
	require.NoError(t, err)
	assert.Contains(t, check.Text, "已入款（1）")
	assert.Contains(t, check.Text, "已下发（1）")

	// Rejected disbursement was not persisted
	doc, err := f.repo.GetLedger(ctx, group)
	require.NoError(t, err)
	assert.Len(t, doc.Transactions, 2)
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 100})
	require.NoError(t, err)

	resp, err := f.svc.Reverse(ctx, group, models.ReversalRequest{
		TransactionRequest: models.TransactionRequest{ActorName: "boss", Amount: -100},
		Kind:               models.KindDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, resp.TotalIn)
	assert.True(t, resp.Transaction.Reversal)

	doc, err := f.repo.GetLedger(ctx, group)
	require.NoError(t, err)
	assert.Len(t, doc.Transactions, 2)

	_, err = f.svc.Reverse(ctx, group, models.ReversalRequest{
		TransactionRequest: models.TransactionRequest{ActorName: "boss", Amount: 10},
		Kind:               models.KindDeposit,
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestRolloverAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetFeeRate(ctx, group, models.FeeRateRequest{Actor: "boss", Percent: pct(5)})
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 1000})
	require.NoError(t, err)
	_, err = f.svc.Disburse(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 475})
	require.NoError(t, err)

	// Scheduler call skips authorization
	resp, err := f.svc.Rollover(ctx, group, "")
	require.NoError(t, err)
	assert.InDelta(t, 500.0, resp.CarriedForward, 1e-9)
	assert.Contains(t, resp.Text, "结转余额")

	doc, err := f.repo.GetLedger(ctx, group)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, doc.TotalIn, 1e-9)
	assert.Empty(t, doc.Transactions)

	_, err = f.svc.Rollover(ctx, group, "stranger")
	assert.ErrorIs(t, err, authz.ErrUnauthorized)

	_, err = f.svc.ClearToday(ctx, group, "boss")
	require.NoError(t, err)
	doc, err = f.repo.GetLedger(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, 0.0, doc.TotalIn)

	// Clearing discards the stored document rather than saving an empty one
	_, err = f.repo.Store().Get(ctx, repository.KindLedger, group)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSetTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetTimezone(ctx, group, models.TimezoneRequest{Actor: "boss", Timezone: "Mars/Olympus"})
	assert.ErrorIs(t, err, service.ErrInvalidRequest)

	_, err = f.svc.SetTimezone(ctx, group, models.TimezoneRequest{Actor: "boss", Timezone: "Asia/Shanghai", RolloverTime: "25:99"})
	assert.ErrorIs(t, err, service.ErrInvalidRequest)

	resp, err := f.svc.SetTimezone(ctx, group, models.TimezoneRequest{
		Actor: "boss", Timezone: "Asia/Shanghai", Title: "Desk A", RolloverTime: "04:30",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "Asia/Shanghai")

	groups, err := f.svc.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Desk A", groups[0].Title)
	assert.Equal(t, "04:30", groups[0].RolloverTime)

	dep, err := f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 1})
	require.NoError(t, err)
	assert.Equal(t, "16:00:00", dep.Transaction.Timestamp)
}

func TestGrantLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Grant(ctx, group, models.GrantRequest{Grantor: "boss", Target: "lee", Tier: models.TierLevel1, Days: days(2)})
	require.NoError(t, err)
	_, err = f.svc.Grant(ctx, group, models.GrantRequest{Grantor: "lee", Target: "kim", Tier: models.TierLevel2})
	require.NoError(t, err)

	auth, err := f.svc.IsAuthorized(ctx, group, "@Kim")
	require.NoError(t, err)
	assert.True(t, auth.Authorized)
	assert.Equal(t, models.TierLevel2, auth.Tier)

	_, err = f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "kim", Amount: 5})
	require.NoError(t, err)

	expiry, err := f.svc.DescribeExpiry(ctx, group, "kim")
	require.NoError(t, err)
	assert.Contains(t, expiry.Text, "2026-03-16 08:00")

	list, err := f.svc.ListGrants(ctx, group, "lee")
	require.NoError(t, err)
	assert.Contains(t, list.Text, "kim ← lee")

	_, err = f.svc.Revoke(ctx, group, "lee", "kim")
	require.NoError(t, err)
	auth, err = f.svc.IsAuthorized(ctx, group, "kim")
	require.NoError(t, err)
	assert.False(t, auth.Authorized)

	// Expired grants stop working
	f.clock.Advance(3 * 24 * time.Hour)
	_, err = f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "lee", Amount: 5})
	assert.ErrorIs(t, err, authz.ErrUnauthorized)
	_, err = f.svc.Grant(ctx, group, models.GrantRequest{Grantor: "lee", Target: "kim", Tier: models.TierLevel2})
	assert.ErrorIs(t, err, authz.ErrGrantorExpired)
}

func TestGroupAccessExpiryIsPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AuthorizeGroup(ctx, group, models.GroupAccessRequest{Grantor: "opal", Days: days(1)})
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "anyone", Amount: 5})
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "anyone", Amount: 5})
	assert.ErrorIs(t, err, authz.ErrUnauthorized)

	doc, err := f.repo.GetAuthDocument(ctx)
	require.NoError(t, err)
	assert.False(t, doc.Groups[group].AllowAllMembers)

	_, err = f.svc.AuthorizeGroup(ctx, group, models.GroupAccessRequest{Grantor: "boss", Days: days(1)})
	require.NoError(t, err)
	_, err = f.svc.RevokeGroup(ctx, group, "boss")
	require.NoError(t, err)
	auth, err := f.svc.IsAuthorized(ctx, group, "anyone")
	require.NoError(t, err)
	assert.False(t, auth.Authorized)
}

func TestOperators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddOperator(ctx, models.OperatorRequest{Actor: "opal", Target: "zed"})
	assert.ErrorIs(t, err, authz.ErrUnauthorized)

	_, err = f.svc.AddOperator(ctx, models.OperatorRequest{Actor: "boss", Target: "zed"})
	require.NoError(t, err)
	auth, err := f.svc.IsAuthorized(ctx, group, "zed")
	require.NoError(t, err)
	assert.Equal(t, models.TierOperator, auth.Tier)

	_, err = f.svc.RemoveOperator(ctx, "boss", "zed")
	require.NoError(t, err)
	auth, err = f.svc.IsAuthorized(ctx, group, "zed")
	require.NoError(t, err)
	assert.False(t, auth.Authorized)
}

func TestRemoveBootstrapOperator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	auth, err := f.svc.IsAuthorized(ctx, group, "opal")
	require.NoError(t, err)
	assert.Equal(t, models.TierOperator, auth.Tier)

	_, err = f.svc.RemoveOperator(ctx, "boss", "@Opal")
	require.NoError(t, err)

	auth, err = f.svc.IsAuthorized(ctx, group, "opal")
	require.NoError(t, err)
	assert.False(t, auth.Authorized)

	_, err = f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "opal", Amount: 10})
	assert.ErrorIs(t, err, authz.ErrUnauthorized)
}

func TestReportAndExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 100, OriginalSender: "carol"})
	require.NoError(t, err)
	_, err = f.svc.Disburse(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 40})
	require.NoError(t, err)

	r, err := f.svc.Report(ctx, group, "boss")
	require.NoError(t, err)
	assert.Len(t, r.Deposits, 1)
	assert.Equal(t, "60.00", r.Summary.Remaining.StringFixed(2))

	_, err = f.svc.Report(ctx, group, "stranger")
	assert.ErrorIs(t, err, authz.ErrUnauthorized)

	data, err := f.svc.ExportReport(ctx, group, "")
	require.NoError(t, err)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)
	assert.Contains(t, records, []string{"08:00:00", "boss", "carol", "100.00"})
}

func TestConcurrentDisbursementsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 100})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Disburse(ctx, group, models.TransactionRequest{ActorName: "boss", Amount: 10})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, accepted)
	doc, err := f.repo.GetLedger(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, 100.0, doc.TotalOut)
	assert.Len(t, doc.Transactions, 11)
}
