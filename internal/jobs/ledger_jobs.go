package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rongwang/groupledger/internal/models"
)

// LedgerService is the slice of the service layer the ledger jobs call.
// An empty actor marks a scheduler call.
type LedgerService interface {
	Rollover(ctx context.Context, groupID, actor string) (*models.RolloverResponse, error)
	ExportReport(ctx context.Context, groupID, actor string) ([]byte, error)
}

// LedgerJobs handles the rollover and report export tasks.
type LedgerJobs struct {
	Service   LedgerService
	ReportDir string
	Logger    *slog.Logger
	clock     func() time.Time
}

// NewLedgerJobs initialises the ledger task handlers.
func NewLedgerJobs(svc LedgerService, reportDir string, logger *slog.Logger) *LedgerJobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerJobs{
		Service:   svc,
		ReportDir: reportDir,
		Logger:    logger,
		clock:     time.Now,
	}
}

// WithClock overrides the clock used to date exported files.
func (j *LedgerJobs) WithClock(clock func() time.Time) *LedgerJobs {
	if clock != nil {
		j.clock = clock
	}
	return j
}

// Handlers lists the task handlers for worker registration.
func (j *LedgerJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLedgerRollover, Handler: j.HandleRollover},
		{Type: TaskReportExport, Handler: j.HandleReportExport},
	}
}

// HandleRollover exports the closing report and then rolls the ledger over.
// A failed export aborts the rollover so the day's data is never lost.
func (j *LedgerJobs) HandleRollover(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("ledger rollover: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}

	logger := j.Logger.With(slog.String("group", payload.GroupID))

	path, err := j.export(ctx, payload)
	if err != nil {
		logger.Error("export before rollover", slog.Any("error", err))
		return err
	}

	resp, err := j.Service.Rollover(ctx, payload.GroupID, "")
	if err != nil {
		logger.Error("rollover", slog.Any("error", err))
		return err
	}

	logger.Info("scheduled rollover complete",
		slog.String("report", path),
		slog.Float64("carried", resp.CarriedForward))
	return nil
}

// HandleReportExport writes the current report without touching the ledger.
func (j *LedgerJobs) HandleReportExport(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("report export: handler not configured")
	}
	payload, err := decodePayload(t)
	if err != nil {
		return err
	}

	path, err := j.export(ctx, payload)
	if err != nil {
		j.Logger.Error("report export", slog.String("group", payload.GroupID), slog.Any("error", err))
		return err
	}
	j.Logger.Info("report exported", slog.String("group", payload.GroupID), slog.String("path", path))
	return nil
}

// ErrInvalidGroupID rejects group ids that cannot be used as a directory name
var ErrInvalidGroupID = errors.New("invalid group id")

// ReportPath is <dir>/<group>/<yyyymmdd>.csv, dated in the group's timezone.
func ReportPath(dir, groupID string, at time.Time, timezone string) (string, error) {
	if err := checkGroupID(groupID); err != nil {
		return "", err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return filepath.Join(dir, groupID, at.In(loc).Format("20060102")+".csv"), nil
}

func checkGroupID(groupID string) error {
	if groupID == "" || groupID == "." || groupID == ".." ||
		strings.ContainsAny(groupID, `/\`) || filepath.Base(groupID) != groupID {
		return fmt.Errorf("%w: %q", ErrInvalidGroupID, groupID)
	}
	return nil
}

func (j *LedgerJobs) export(ctx context.Context, payload GroupPayload) (string, error) {
	data, err := j.Service.ExportReport(ctx, payload.GroupID, "")
	if err != nil {
		return "", err
	}

	path, err := ReportPath(j.ReportDir, payload.GroupID, j.clock(), payload.Timezone)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func decodePayload(t *asynq.Task) (GroupPayload, error) {
	var payload GroupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.GroupID == "" {
		return GroupPayload{}, fmt.Errorf("%s: invalid payload: %w", t.Type(), asynq.SkipRetry)
	}
	if err := checkGroupID(payload.GroupID); err != nil {
		return GroupPayload{}, fmt.Errorf("%s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}
