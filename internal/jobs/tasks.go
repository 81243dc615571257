package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/rongwang/groupledger/internal/models"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerRollover exports the day's report and then rolls the ledger over.
	TaskLedgerRollover = "ledger:rollover"
	// TaskReportExport writes the group's report to the report directory.
	TaskReportExport = "ledger:report_export"
)

// GroupPayload identifies the group a task works on. Timezone names the
// group's zone when the task was scheduled and dates the exported file.
type GroupPayload struct {
	GroupID  string `json:"groupId"`
	Timezone string `json:"timezone,omitempty"`
}

// NewRolloverTask constructs a rollover task for one group.
func NewRolloverTask(groupID, timezone string) (*asynq.Task, error) {
	return newGroupTask(TaskLedgerRollover, groupID, timezone)
}

// NewReportExportTask constructs a report export task for one group.
func NewReportExportTask(groupID, timezone string) (*asynq.Task, error) {
	return newGroupTask(TaskReportExport, groupID, timezone)
}

func newGroupTask(taskType, groupID, timezone string) (*asynq.Task, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%s: group id is required", taskType)
	}
	data, err := json.Marshal(GroupPayload{GroupID: groupID, Timezone: timezone})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// CronSpec turns a group's HH:MM rollover time into a daily cron expression
// evaluated in the group's timezone.
func CronSpec(cfg models.GroupConfig) (string, error) {
	rollover := cfg.RolloverTime
	if rollover == "" {
		rollover = models.DefaultRolloverTime
	}
	hh, mm, ok := strings.Cut(rollover, ":")
	if !ok {
		return "", fmt.Errorf("invalid rollover time %q", rollover)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid rollover hour %q", rollover)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid rollover minute %q", rollover)
	}

	tz := cfg.Timezone
	if tz == "" {
		tz = models.DefaultTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", tz, minute, hour), nil
}

// RolloverSchedule builds one cron registration per group. Groups with a
// broken schedule are returned in skipped rather than failing the worker.
func RolloverSchedule(groups []models.GroupConfig) (entries []CronRegistration, skipped map[string]error) {
	skipped = map[string]error{}
	for _, cfg := range groups {
		spec, err := CronSpec(cfg)
		if err != nil {
			skipped[cfg.GroupID] = err
			continue
		}
		task, err := NewRolloverTask(cfg.GroupID, cfg.Timezone)
		if err != nil {
			skipped[cfg.GroupID] = err
			continue
		}
		entries = append(entries, CronRegistration{
			Spec:    spec,
			Task:    task,
			Options: []asynq.Option{asynq.MaxRetry(3), asynq.Queue(QueueDefault)},
		})
	}
	return entries, skipped
}
