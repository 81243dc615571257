package api_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rongwang/groupledger/internal/api/testutils"
	"github.com/rongwang/groupledger/internal/models"
)

func TestConcurrentLedgerChanges(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	t.Run("TestConcurrentDeposits", func(t *testing.T) {
		const numGoroutines = 10
		const depositsPerGoroutine = 5

		var wg sync.WaitGroup
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < depositsPerGoroutine; j++ {
					w := testCtx.Do(http.MethodPost, testutils.GroupPath("/deposits"), models.TransactionRequest{
						ActorName: "boss",
						Amount:    10,
					})
					assert.Equal(t, http.StatusCreated, w.Code)
				}
			}()
		}
		wg.Wait()

		doc, err := testCtx.Repository.GetLedger(context.Background(), testutils.TestGroup)
		require.NoError(t, err)
		assert.Equal(t, 500.0, doc.TotalIn, "No deposit should be lost")
		assert.Len(t, doc.Transactions, numGoroutines*depositsPerGoroutine)
	})

	// Competing disbursements may never overdraw the ledger
	t.Run("TestConcurrentDisbursements", func(t *testing.T) {
		const numGoroutines = 20

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
			rejected atomic.Int32
		)
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w := testCtx.Do(http.MethodPost, testutils.GroupPath("/disbursements"), models.TransactionRequest{
					ActorName: "boss",
					Amount:    50,
				})
				switch w.Code {
				case http.StatusCreated:
					accepted.Add(1)
				case http.StatusUnprocessableEntity:
					rejected.Add(1)
				default:
					t.Errorf("unexpected status %d: %s", w.Code, w.Body.String())
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(10), accepted.Load())
		assert.Equal(t, int32(10), rejected.Load())

		doc, err := testCtx.Repository.GetLedger(context.Background(), testutils.TestGroup)
		require.NoError(t, err)
		assert.Equal(t, 500.0, doc.TotalOut)
	})
}
