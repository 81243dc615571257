package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rongwang/groupledger/internal/authz"
	"github.com/rongwang/groupledger/internal/models"
)

const expiryLayout = "2006-01-02 15:04"

// mutateAuth loads the auth document under the auth lock, applies fn and
// saves the result if fn succeeds
func (s *DefaultService) mutateAuth(ctx context.Context, fn func(doc *models.AuthDocument) error) error {
	return s.withLock(ctx, authLockKey, func() error {
		doc, err := s.repo.GetAuthDocument(ctx)
		if err != nil {
			return fmt.Errorf("error loading auth document: %w", err)
		}
		if err := fn(doc); err != nil {
			return err
		}
		if err := s.repo.SaveAuthDocument(ctx, doc); err != nil {
			return fmt.Errorf("error saving auth document: %w", err)
		}
		return nil
	})
}

func (s *DefaultService) Grant(ctx context.Context, groupID string, req models.GrantRequest) (*models.TextResponse, error) {
	cfg, err := s.repo.GetGroupConfig(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("error loading group config: %w", err)
	}

	var grant models.Grant
	err = s.mutateAuth(ctx, func(doc *models.AuthDocument) error {
		var err error
		grant, err = s.authority.Grant(doc, authz.GrantInput{
			Grantor: req.Grantor,
			Target:  req.Target,
			Tier:    req.Tier,
			Days:    req.Days,
		}, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("grant issued",
		slog.String("grantor", grant.GrantedBy),
		slog.String("principal", grant.Principal),
		slog.String("tier", string(grant.Tier)),
		slog.Time("expiresAt", grant.ExpiresAt))

	label := "一级授权"
	if grant.Tier == models.TierLevel2 {
		label = "二级授权"
	}
	return &models.TextResponse{
		Status: "success",
		Text: fmt.Sprintf("已授予 %s %s，到期 %s",
			grant.Principal, label, grant.ExpiresAt.In(cfg.Location()).Format(expiryLayout)),
	}, nil
}

func (s *DefaultService) Revoke(ctx context.Context, groupID, grantor, target string) (*models.TextResponse, error) {
	var removed []models.Tier
	err := s.mutateAuth(ctx, func(doc *models.AuthDocument) error {
		var err error
		removed, err = s.authority.Revoke(doc, grantor, target, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	tiers := make([]string, len(removed))
	for i, t := range removed {
		tiers[i] = string(t)
	}
	s.logger.Info("grant revoked",
		slog.String("group", groupID),
		slog.String("grantor", models.NormalizePrincipal(grantor)),
		slog.String("principal", models.NormalizePrincipal(target)),
		slog.String("tiers", strings.Join(tiers, ",")))

	return &models.TextResponse{
		Status: "success",
		Text:   fmt.Sprintf("已撤销 %s 的授权", models.NormalizePrincipal(target)),
	}, nil
}

func (s *DefaultService) AuthorizeGroup(ctx context.Context, groupID string, req models.GroupAccessRequest) (*models.TextResponse, error) {
	cfg, err := s.repo.GetGroupConfig(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("error loading group config: %w", err)
	}

	var access models.GroupAccess
	err = s.mutateAuth(ctx, func(doc *models.AuthDocument) error {
		var err error
		access, err = s.authority.AuthorizeGroup(doc, req.Grantor, groupID, req.Days, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group access granted", slog.String("group", groupID), slog.String("grantor", access.GrantedBy))
	return &models.TextResponse{
		Status: "success",
		Text:   fmt.Sprintf("本群所有成员已获授权，到期 %s", access.ExpiresAt.In(cfg.Location()).Format(expiryLayout)),
	}, nil
}

func (s *DefaultService) RevokeGroup(ctx context.Context, groupID, grantor string) (*models.TextResponse, error) {
	err := s.mutateAuth(ctx, func(doc *models.AuthDocument) error {
		return s.authority.RevokeGroup(doc, grantor, groupID, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("group access revoked", slog.String("group", groupID))
	return &models.TextResponse{Status: "success", Text: "已关闭本群成员授权"}, nil
}

func (s *DefaultService) IsAuthorized(ctx context.Context, groupID, principal string) (*models.AuthorizedResponse, error) {
	var (
		authorized bool
		tier       models.Tier
	)
	err := s.withLock(ctx, authLockKey, func() error {
		doc, err := s.repo.GetAuthDocument(ctx)
		if err != nil {
			return fmt.Errorf("error loading auth document: %w", err)
		}

		now := s.now()
		var changed bool
		authorized, changed = s.authority.IsAuthorized(doc, principal, groupID, now)
		tier = s.authority.TierOf(doc, principal, groupID, now)
		if changed {
			if err := s.repo.SaveAuthDocument(ctx, doc); err != nil {
				return fmt.Errorf("error saving auth document: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &models.AuthorizedResponse{
		Status:     "success",
		Principal:  models.NormalizePrincipal(principal),
		Authorized: authorized,
		Tier:       tier,
	}, nil
}

func (s *DefaultService) ListGrants(ctx context.Context, groupID, actor string) (*models.TextResponse, error) {
	if err := s.authorize(ctx, groupID, actor); err != nil {
		return nil, err
	}

	cfg, err := s.repo.GetGroupConfig(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("error loading group config: %w", err)
	}
	doc, err := s.repo.GetAuthDocument(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading auth document: %w", err)
	}

	return &models.TextResponse{
		Status: "success",
		Text:   s.authority.ListGrants(doc, groupID, s.now(), cfg.Location()),
	}, nil
}

// DescribeExpiry needs no authorization: anyone may ask when their own access ends
func (s *DefaultService) DescribeExpiry(ctx context.Context, groupID, principal string) (*models.TextResponse, error) {
	cfg, err := s.repo.GetGroupConfig(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("error loading group config: %w", err)
	}
	doc, err := s.repo.GetAuthDocument(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading auth document: %w", err)
	}

	return &models.TextResponse{
		Status: "success",
		Text:   s.authority.DescribeExpiry(doc, principal, groupID, s.now(), cfg.Location()),
	}, nil
}

func (s *DefaultService) AddOperator(ctx context.Context, req models.OperatorRequest) (*models.TextResponse, error) {
	err := s.mutateAuth(ctx, func(doc *models.AuthDocument) error {
		return s.authority.AddOperator(doc, req.Actor, req.Target)
	})
	if err != nil {
		return nil, err
	}

	target := models.NormalizePrincipal(req.Target)
	s.logger.Info("operator added", slog.String("principal", target))
	return &models.TextResponse{Status: "success", Text: fmt.Sprintf("已添加操作员 %s", target)}, nil
}

func (s *DefaultService) RemoveOperator(ctx context.Context, actor, target string) (*models.TextResponse, error) {
	err := s.mutateAuth(ctx, func(doc *models.AuthDocument) error {
		return s.authority.RemoveOperator(doc, actor, target)
	})
	if err != nil {
		return nil, err
	}

	target = models.NormalizePrincipal(target)
	s.logger.Info("operator removed", slog.String("principal", target))
	return &models.TextResponse{Status: "success", Text: fmt.Sprintf("已移除操作员 %s", target)}, nil
}
