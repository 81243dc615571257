package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rongwang/groupledger/internal/api"
	"github.com/rongwang/groupledger/internal/api/testutils"
	"github.com/rongwang/groupledger/internal/models"
)

type stubQueue struct {
	groups []string
}

func (q *stubQueue) EnqueueReportExport(_ context.Context, groupID, _ string) (string, error) {
	q.groups = append(q.groups, groupID)
	return "task-1", nil
}

func TestEnqueueExport(t *testing.T) {
	// Test case 1: No queue configured
	testCtx := testutils.SetupTestContext(t)
	w := testCtx.Do(http.MethodPost, testutils.GroupPath("/report/export"), models.ActorRequest{Actor: "boss"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	queue := &stubQueue{}
	testCtx = testutils.SetupTestContext(t, func(h *api.Handler) { h.WithExportQueue(queue) })

	// Test case 2: Unauthorized actor
	w = testCtx.Do(http.MethodPost, testutils.GroupPath("/report/export"), models.ActorRequest{Actor: "stranger"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, queue.groups)

	// Test case 3: Accepted
	w = testCtx.Do(http.MethodPost, testutils.GroupPath("/report/export"), models.ActorRequest{Actor: "opal"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "task-1")
	assert.Equal(t, []string{testutils.TestGroup}, queue.groups)
}
