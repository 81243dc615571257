package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/rongwang/groupledger/internal/ledger"
	"github.com/rongwang/groupledger/internal/models"
)

func (s *DefaultService) Deposit(ctx context.Context, groupID string, req models.TransactionRequest) (*models.TransactionResponse, error) {
	return s.applyTransaction(ctx, groupID, models.KindDeposit, req, false)
}

func (s *DefaultService) Disburse(ctx context.Context, groupID string, req models.TransactionRequest) (*models.TransactionResponse, error) {
	return s.applyTransaction(ctx, groupID, models.KindDisbursement, req, false)
}

// Reverse records a correcting entry; req.Amount must be negative
func (s *DefaultService) Reverse(ctx context.Context, groupID string, req models.ReversalRequest) (*models.TransactionResponse, error) {
	return s.applyTransaction(ctx, groupID, req.Kind, req.TransactionRequest, true)
}

func (s *DefaultService) applyTransaction(
	ctx context.Context,
	groupID string,
	kind models.TransactionKind,
	req models.TransactionRequest,
	reversal bool,
) (*models.TransactionResponse, error) {
	if err := s.authorize(ctx, groupID, req.ActorName); err != nil {
		return nil, err
	}

	var result *ledger.Result
	err := s.withLock(ctx, groupID, func() error {
		doc, cfg, err := s.loadGroup(ctx, groupID)
		if err != nil {
			return err
		}

		result, err = ledger.Apply(*doc, *cfg, ledger.Request{
			Kind:           kind,
			Amount:         req.Amount,
			ActorID:        req.ActorID,
			ActorName:      req.ActorName,
			CurrencyTag:    req.CurrencyTag,
			OriginalSender: req.OriginalSender,
			Reversal:       reversal,
			At:             s.now(),
		})
		if err != nil {
			return err
		}

		if err := s.repo.SaveLedger(ctx, &result.Document); err != nil {
			return fmt.Errorf("error saving ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Info("transaction rejected",
			slog.String("group", groupID),
			slog.String("kind", string(kind)),
			slog.Float64("amount", req.Amount),
			slog.Any("error", err))
		return nil, err
	}

	s.logger.Info("transaction recorded",
		slog.String("group", groupID),
		slog.String("kind", string(kind)),
		slog.String("id", result.Transaction.ID),
		slog.Float64("amount", result.Transaction.Amount))

	return &models.TransactionResponse{
		Status:      "success",
		Transaction: result.Transaction,
		TotalIn:     result.Document.TotalIn,
		TotalOut:    result.Document.TotalOut,
		CurrencyOut: result.Document.CurrencyOut,
		Text:        result.Text,
	}, nil
}

func (s *DefaultService) CheckLedger(ctx context.Context, groupID, actor string) (*models.TextResponse, error) {
	if err := s.authorize(ctx, groupID, actor); err != nil {
		return nil, err
	}

	doc, cfg, err := s.loadGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	return &models.TextResponse{Status: "success", Text: ledger.Summary(*doc, *cfg)}, nil
}

// ClearToday discards the ledger with no carry-forward; the next load starts empty
func (s *DefaultService) ClearToday(ctx context.Context, groupID, actor string) (*models.TextResponse, error) {
	if err := s.authorize(ctx, groupID, actor); err != nil {
		return nil, err
	}

	err := s.withLock(ctx, groupID, func() error {
		if err := s.repo.DeleteLedger(ctx, groupID); err != nil {
			return fmt.Errorf("error clearing ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ledger cleared", slog.String("group", groupID), slog.String("actor", actor))
	return &models.TextResponse{Status: "success", Text: "今日账单已清空"}, nil
}

func (s *DefaultService) Rollover(ctx context.Context, groupID, actor string) (*models.RolloverResponse, error) {
	if actor != "" {
		if err := s.authorize(ctx, groupID, actor); err != nil {
			return nil, err
		}
	}

	var summary ledger.CarrySummary
	err := s.withLock(ctx, groupID, func() error {
		doc, cfg, err := s.loadGroup(ctx, groupID)
		if err != nil {
			return err
		}

		var next models.LedgerDocument
		next, summary = ledger.Rollover(*doc, *cfg, s.now())
		if err := s.repo.SaveLedger(ctx, &next); err != nil {
			return fmt.Errorf("error saving ledger: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("ledger rolled over",
		slog.String("group", groupID),
		slog.Float64("remaining", summary.Remaining),
		slog.Float64("carried", summary.CarriedForward))

	return &models.RolloverResponse{
		Status:         "success",
		Text:           summary.Text,
		Remaining:      summary.Remaining,
		CarriedForward: summary.CarriedForward,
	}, nil
}

func (s *DefaultService) SetFeeRate(ctx context.Context, groupID string, req models.FeeRateRequest) (*models.TextResponse, error) {
	if req.Percent == nil || *req.Percent < 0 || *req.Percent > 100 {
		return nil, fmt.Errorf("%w: fee rate must be between 0 and 100", ErrInvalidRequest)
	}

	err := s.updateConfig(ctx, groupID, req.Actor, func(cfg *models.GroupConfig) error {
		cfg.FeeRate = *req.Percent
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.TextResponse{
		Status: "success",
		Text:   fmt.Sprintf("费率已设置为 %s%%", strconv.FormatFloat(*req.Percent, 'f', -1, 64)),
	}, nil
}

func (s *DefaultService) SetExchangeRate(ctx context.Context, groupID string, req models.ExchangeRateRequest) (*models.TextResponse, error) {
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	if req.Rate == nil || *req.Rate < 0 {
		return nil, fmt.Errorf("%w: exchange rate must not be negative", ErrInvalidRequest)
	}

	err := s.updateConfig(ctx, groupID, req.Actor, func(cfg *models.GroupConfig) error {
		cfg.CurrencyType = currency
		cfg.ExchangeRate = *req.Rate
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.TextResponse{
		Status: "success",
		Text:   fmt.Sprintf("%s汇率已设置为 %s", currency, strconv.FormatFloat(*req.Rate, 'f', -1, 64)),
	}, nil
}

// SetTimezone also accepts the group title and its daily rollover time
func (s *DefaultService) SetTimezone(ctx context.Context, groupID string, req models.TimezoneRequest) (*models.TextResponse, error) {
	tz := strings.TrimSpace(req.Timezone)
	if _, err := time.LoadLocation(tz); err != nil || tz == "" {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalidRequest, req.Timezone)
	}
	rollover := strings.TrimSpace(req.RolloverTime)
	if rollover != "" {
		if _, err := time.Parse("15:04", rollover); err != nil {
			return nil, fmt.Errorf("%w: rollover time must be HH:MM", ErrInvalidRequest)
		}
	}

	var updated models.GroupConfig
	err := s.updateConfig(ctx, groupID, req.Actor, func(cfg *models.GroupConfig) error {
		cfg.Timezone = tz
		if title := strings.TrimSpace(req.Title); title != "" {
			cfg.Title = title
		}
		if rollover != "" {
			cfg.RolloverTime = rollover
		}
		updated = *cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.TextResponse{
		Status: "success",
		Text:   fmt.Sprintf("时区已设置为 %s，每日 %s 结转", updated.Timezone, updated.RolloverTime),
	}, nil
}

func (s *DefaultService) ListGroups(ctx context.Context) ([]models.GroupConfig, error) {
	ids, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, err
	}

	groups := make([]models.GroupConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.repo.GetGroupConfig(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("error loading group config: %w", err)
		}
		groups = append(groups, *cfg)
	}
	return groups, nil
}

func (s *DefaultService) updateConfig(ctx context.Context, groupID, actor string, mutate func(*models.GroupConfig) error) error {
	if err := s.authorize(ctx, groupID, actor); err != nil {
		return err
	}

	err := s.withLock(ctx, groupID, func() error {
		cfg, err := s.repo.GetGroupConfig(ctx, groupID)
		if err != nil {
			return fmt.Errorf("error loading group config: %w", err)
		}
		if err := mutate(cfg); err != nil {
			return err
		}
		if err := s.repo.SaveGroupConfig(ctx, cfg); err != nil {
			return fmt.Errorf("error saving group config: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("group config updated", slog.String("group", groupID), slog.String("actor", actor))
	return nil
}
