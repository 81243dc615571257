package api_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rongwang/groupledger/internal/api/testutils"
	"github.com/rongwang/groupledger/internal/models"
)

func pct(v float64) *float64 { return &v }

func TestLedgerFlow(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	// Configure a 5% fee and a USD rate
	w := testCtx.Do(http.MethodPut, testutils.GroupPath("/config/fee-rate"), models.FeeRateRequest{
		Actor:   "boss",
		Percent: pct(5),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testCtx.Do(http.MethodPut, testutils.GroupPath("/config/exchange-rate"), models.ExchangeRateRequest{
		Actor:    "boss",
		Currency: "usd",
		Rate:     pct(7),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	t.Run("Deposit", func(t *testing.T) {
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/deposits"), models.TransactionRequest{
			ActorID:   "42",
			ActorName: "@Opal",
			Amount:    1000,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var response models.TransactionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, 1000.0, response.TotalIn)
		assert.Equal(t, "Opal", response.Transaction.ActorName)
		assert.Equal(t, models.KindDeposit, response.Transaction.Kind)
		assert.NotEmpty(t, response.Transaction.ID)
		assert.Contains(t, response.Text, "已入款（1）")
	})

	t.Run("Disbursement", func(t *testing.T) {
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/disbursements"), models.TransactionRequest{
			ActorName: "boss",
			Amount:    700,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var response models.TransactionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.InDelta(t, 700.0, response.TotalOut, 1e-9)
		assert.InDelta(t, 100.0, response.CurrencyOut, 1e-9)
	})

	t.Run("CurrencyTaggedDisbursement", func(t *testing.T) {
		// 950 expected out, 700 paid, 250/7 USD still available
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/disbursements"), models.TransactionRequest{
			ActorName:   "boss",
			Amount:      10,
			CurrencyTag: "u",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var response models.TransactionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.InDelta(t, 770.0, response.TotalOut, 1e-9)
		assert.InDelta(t, 110.0, response.CurrencyOut, 1e-9)
		assert.InDelta(t, 70.0, response.Transaction.Amount, 1e-9)
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/disbursements"), models.TransactionRequest{
			ActorName: "boss",
			Amount:    500,
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		var response models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "INSUFFICIENT_BALANCE", response.Code)
		assert.Contains(t, response.Message, "180.00")
	})

	t.Run("Reversal", func(t *testing.T) {
		// Test case 1: positive amount is rejected
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/reversals"), models.ReversalRequest{
			TransactionRequest: models.TransactionRequest{ActorName: "boss", Amount: 100},
			Kind:               models.KindDeposit,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		// Test case 2: negative disbursement correction
		w = testCtx.Do(http.MethodPost, testutils.GroupPath("/reversals"), models.ReversalRequest{
			TransactionRequest: models.TransactionRequest{ActorName: "boss", Amount: -70},
			Kind:               models.KindDisbursement,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var response models.TransactionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.InDelta(t, 700.0, response.TotalOut, 1e-9)
		assert.True(t, response.Transaction.Reversal)

		// Test case 3: unknown kind
		w = testCtx.Do(http.MethodPost, testutils.GroupPath("/reversals"), map[string]interface{}{
			"actorName": "boss",
			"amount":    -1,
			"kind":      "refund",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("CheckLedger", func(t *testing.T) {
		w := testCtx.Do(http.MethodGet, testutils.GroupPath("/ledger?actor=opal"), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var response models.TextResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Contains(t, response.Text, "已入款（1）")
	})

	t.Run("Report", func(t *testing.T) {
		w := testCtx.Do(http.MethodGet, testutils.GroupPath("/report?actor=boss"), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "Opal")
	})

	t.Run("ExportReport", func(t *testing.T) {
		w := testCtx.Do(http.MethodGet, testutils.GroupPath("/report/export?actor=boss"), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/csv"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), testutils.TestGroup)

		r := csv.NewReader(strings.NewReader(w.Body.String()))
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		require.NoError(t, err)
		require.NotEmpty(t, rows)
		assert.Equal(t, "群组", rows[0][0])
		assert.Equal(t, testutils.TestGroup, rows[0][1])
	})

	t.Run("Rollover", func(t *testing.T) {
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/ledger/rollover"), models.ActorRequest{Actor: "boss"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var response models.RolloverResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.InDelta(t, 250.0, response.Remaining, 1e-9)
		assert.InDelta(t, 250.0/0.95, response.CarriedForward, 1e-9)
		assert.Contains(t, response.Text, "结转余额")

		doc, err := testCtx.Repository.GetLedger(context.Background(), testutils.TestGroup)
		require.NoError(t, err)
		assert.Empty(t, doc.Transactions)
		assert.InDelta(t, 250.0/0.95, doc.TotalIn, 1e-9)
	})

	t.Run("ClearToday", func(t *testing.T) {
		w := testCtx.Do(http.MethodPost, testutils.GroupPath("/ledger/clear"), models.ActorRequest{Actor: "boss"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		doc, err := testCtx.Repository.GetLedger(context.Background(), testutils.TestGroup)
		require.NoError(t, err)
		assert.Zero(t, doc.TotalIn)
		assert.Zero(t, doc.TotalOut)
	})
}

func TestLedgerValidation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	// Test case 1: Unauthorized actor
	w := testCtx.Do(http.MethodPost, testutils.GroupPath("/deposits"), models.TransactionRequest{
		ActorName: "stranger",
		Amount:    100,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 2: Negative amount outside a reversal
	w = testCtx.Do(http.MethodPost, testutils.GroupPath("/deposits"), models.TransactionRequest{
		ActorName: "boss",
		Amount:    -5,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "INVALID_AMOUNT", response.Code)

	// Test case 3: Missing actor query parameter
	w = testCtx.Do(http.MethodGet, testutils.GroupPath("/ledger"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 4: Fee rate out of range
	w = testCtx.Do(http.MethodPut, testutils.GroupPath("/config/fee-rate"), models.FeeRateRequest{
		Actor:   "boss",
		Percent: pct(120),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 5: Unknown timezone
	w = testCtx.Do(http.MethodPut, testutils.GroupPath("/config/timezone"), models.TimezoneRequest{
		Actor:    "boss",
		Timezone: "Mars/Olympus",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 6: Valid timezone with title and rollover time
	w = testCtx.Do(http.MethodPut, testutils.GroupPath("/config/timezone"), models.TimezoneRequest{
		Actor:        "boss",
		Timezone:     "Asia/Shanghai",
		Title:        "Night desk",
		RolloverTime: "06:30",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testCtx.Do(http.MethodGet, "/api/groups", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var groups struct {
		Groups []models.GroupConfig `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups.Groups, 1)
	assert.Equal(t, "Asia/Shanghai", groups.Groups[0].Timezone)
	assert.Equal(t, "06:30", groups.Groups[0].RolloverTime)
	assert.Equal(t, "Night desk", groups.Groups[0].Title)
}
