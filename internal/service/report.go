package service

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/rongwang/groupledger/internal/report"
)

func (s *DefaultService) Report(ctx context.Context, groupID, actor string) (*report.Report, error) {
	if err := s.authorize(ctx, groupID, actor); err != nil {
		return nil, err
	}

	doc, cfg, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	r := report.Build(*doc, *cfg, s.now())
	return &r, nil
}

// ExportReport renders the group's report as CSV. Concurrent exports of the
// same group share one rendering.
func (s *DefaultService) ExportReport(ctx context.Context, groupID, actor string) ([]byte, error) {
	if actor != "" {
		if err := s.authorize(ctx, groupID, actor); err != nil {
			return nil, err
		}
	}

	v, err, shared := s.exports.Do(groupID, func() (interface{}, error) {
		doc, cfg, err := s.loadGroup(ctx, groupID)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := report.WriteCSV(&buf, report.Build(*doc, *cfg, s.now())); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
	if err != nil {
		s.logger.Error("export report", slog.String("group", groupID), slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("report exported", slog.String("group", groupID), slog.Bool("shared", shared))
	return v.([]byte), nil
}
