// Package authz decides who may operate a group ledger. It works on an
// in-memory AuthDocument; loading and persisting the document is the
// caller's job.
package authz

import (
	"errors"
	"slices"
	"time"

	"github.com/rongwang/groupledger/internal/models"
)

var (
	ErrUnauthorized     = errors.New("not authorized")
	ErrGrantorExpired   = errors.New("grantor authorization has expired")
	ErrInvalidDuration  = errors.New("duration must be a positive number of days")
	ErrGrantNotFound    = errors.New("grant not found")
	ErrInvalidTier      = errors.New("invalid tier")
	ErrInvalidPrincipal = errors.New("invalid principal")
)

// DefaultGrantDays applies when a grant does not name a duration
const DefaultGrantDays = 30

const day = 24 * time.Hour

// Authority evaluates grants against a configured owner
type Authority struct {
	owner string
}

// New creates an Authority. The owner is never stored and never expires.
func New(owner string) *Authority {
	return &Authority{owner: models.NormalizePrincipal(owner)}
}

// Owner returns the normalised owner principal
func (a *Authority) Owner() string {
	return a.owner
}

// GrantInput describes a Level1 or Level2 grant
type GrantInput struct {
	Grantor string
	Target  string
	Tier    models.Tier
	Days    *int
}

func (a *Authority) isOwner(principal string) bool {
	return a.owner != "" && principal == a.owner
}

func (a *Authority) isOperator(doc *models.AuthDocument, principal string) bool {
	return slices.Contains(doc.Operators, principal)
}

func (a *Authority) isAdmin(doc *models.AuthDocument, principal string) bool {
	return a.isOwner(principal) || a.isOperator(doc, principal)
}

// Grant records a Level1 or Level2 grant for in.Target. A new grant replaces
// any earlier grant of the same tier for that principal.
func (a *Authority) Grant(doc *models.AuthDocument, in GrantInput, now time.Time) (models.Grant, error) {
	grantor := models.NormalizePrincipal(in.Grantor)
	target := models.NormalizePrincipal(in.Target)
	if target == "" {
		return models.Grant{}, ErrInvalidPrincipal
	}

	var expiresAt time.Time
	switch in.Tier {
	case models.TierLevel1:
		if !a.isAdmin(doc, grantor) {
			return models.Grant{}, ErrUnauthorized
		}
		days, err := resolveDays(in.Days)
		if err != nil {
			return models.Grant{}, err
		}
		expiresAt = now.Add(time.Duration(days) * day)

	case models.TierLevel2:
		if a.isAdmin(doc, grantor) {
			days, err := resolveDays(in.Days)
			if err != nil {
				return models.Grant{}, err
			}
			expiresAt = now.Add(time.Duration(days) * day)
			break
		}
		limit, err := level1Expiry(doc, grantor, now)
		if err != nil {
			return models.Grant{}, err
		}
		expiresAt = limit
		if in.Days != nil {
			if *in.Days <= 0 {
				return models.Grant{}, ErrInvalidDuration
			}
			if requested := now.Add(time.Duration(*in.Days) * day); requested.Before(limit) {
				expiresAt = requested
			}
		}

	default:
		return models.Grant{}, ErrInvalidTier
	}

	grant := models.Grant{
		Principal: target,
		GrantedBy: grantor,
		GrantedAt: now.UTC(),
		ExpiresAt: expiresAt.UTC(),
		Tier:      in.Tier,
	}
	if in.Tier == models.TierLevel1 {
		doc.Level1[target] = grant
	} else {
		doc.Level2[target] = grant
	}
	return grant, nil
}

// AuthorizeGroup opens a group to all of its members until the returned
// expiry. Owner and operators must name a positive duration; a Level1
// grantor's window is capped by its own grant.
func (a *Authority) AuthorizeGroup(doc *models.AuthDocument, grantor, groupID string, days *int, now time.Time) (models.GroupAccess, error) {
	grantor = models.NormalizePrincipal(grantor)

	var expiresAt time.Time
	if a.isAdmin(doc, grantor) {
		if days == nil || *days <= 0 {
			return models.GroupAccess{}, ErrInvalidDuration
		}
		expiresAt = now.Add(time.Duration(*days) * day)
	} else {
		limit, err := level1Expiry(doc, grantor, now)
		if err != nil {
			return models.GroupAccess{}, err
		}
		expiresAt = limit
		if days != nil {
			if *days <= 0 {
				return models.GroupAccess{}, ErrInvalidDuration
			}
			if requested := now.Add(time.Duration(*days) * day); requested.Before(limit) {
				expiresAt = requested
			}
		}
	}

	expiresAt = expiresAt.UTC()
	access := models.GroupAccess{
		AllowAllMembers: true,
		GrantedBy:       grantor,
		GrantedAt:       now.UTC(),
		ExpiresAt:       &expiresAt,
	}
	doc.Groups[groupID] = access
	return access, nil
}

// Revoke removes the grants held by target and returns the tiers removed.
// Level1 grants can only be revoked by the owner or an operator.
func (a *Authority) Revoke(doc *models.AuthDocument, grantor, target string, now time.Time) ([]models.Tier, error) {
	grantor = models.NormalizePrincipal(grantor)
	target = models.NormalizePrincipal(target)

	admin := a.isAdmin(doc, grantor)
	if !admin && !activeLevel1(doc, grantor, now) {
		return nil, ErrUnauthorized
	}

	_, hasL1 := doc.Level1[target]
	_, hasL2 := doc.Level2[target]
	if !hasL1 && !hasL2 {
		return nil, ErrGrantNotFound
	}
	if hasL1 && !hasL2 && !admin {
		return nil, ErrUnauthorized
	}

	var removed []models.Tier
	if hasL1 && admin {
		delete(doc.Level1, target)
		removed = append(removed, models.TierLevel1)
	}
	if hasL2 {
		delete(doc.Level2, target)
		removed = append(removed, models.TierLevel2)
	}
	return removed, nil
}

// RevokeGroup closes a group to its members
func (a *Authority) RevokeGroup(doc *models.AuthDocument, grantor, groupID string, now time.Time) error {
	grantor = models.NormalizePrincipal(grantor)
	if !a.isAdmin(doc, grantor) && !activeLevel1(doc, grantor, now) {
		return ErrUnauthorized
	}

	access, ok := doc.Groups[groupID]
	if !ok {
		return ErrGrantNotFound
	}
	access.AllowAllMembers = false
	access.ExpiresAt = nil
	doc.Groups[groupID] = access
	return nil
}

// IsAuthorized reports whether principal may operate the ledger of groupID.
// changed is true when an expired group-wide window was switched off and the
// document needs to be saved.
func (a *Authority) IsAuthorized(doc *models.AuthDocument, principal, groupID string, now time.Time) (authorized, changed bool) {
	access, ok := doc.Groups[groupID]
	if ok && access.AllowAllMembers && access.ExpiresAt != nil && !now.Before(*access.ExpiresAt) {
		access.AllowAllMembers = false
		doc.Groups[groupID] = access
		changed = true
	}

	return a.TierOf(doc, principal, groupID, now) != models.TierNone, changed
}

// TierOf returns the highest active tier of principal in groupID
func (a *Authority) TierOf(doc *models.AuthDocument, principal, groupID string, now time.Time) models.Tier {
	principal = models.NormalizePrincipal(principal)
	if principal == "" {
		return models.TierNone
	}

	switch {
	case a.isOwner(principal):
		return models.TierOwner
	case a.isOperator(doc, principal):
		return models.TierOperator
	}
	if g, ok := doc.Level1[principal]; ok && g.Active(now) {
		return models.TierLevel1
	}
	if g, ok := doc.Level2[principal]; ok && g.Active(now) {
		return models.TierLevel2
	}
	if access, ok := doc.Groups[groupID]; ok && groupOpen(access, now) {
		return models.TierGroupWide
	}
	return models.TierNone
}

// AddOperator adds target to the operator list. Only the owner may do this.
func (a *Authority) AddOperator(doc *models.AuthDocument, actor, target string) error {
	if !a.isOwner(models.NormalizePrincipal(actor)) {
		return ErrUnauthorized
	}
	target = models.NormalizePrincipal(target)
	if target == "" {
		return ErrInvalidPrincipal
	}
	if !slices.Contains(doc.Operators, target) {
		doc.Operators = append(doc.Operators, target)
	}
	return nil
}

// RemoveOperator removes target from the operator list
func (a *Authority) RemoveOperator(doc *models.AuthDocument, actor, target string) error {
	if !a.isOwner(models.NormalizePrincipal(actor)) {
		return ErrUnauthorized
	}
	target = models.NormalizePrincipal(target)
	idx := slices.Index(doc.Operators, target)
	if idx < 0 {
		return ErrGrantNotFound
	}
	doc.Operators = slices.Delete(doc.Operators, idx, idx+1)
	return nil
}

func resolveDays(days *int) (int, error) {
	if days == nil {
		return DefaultGrantDays, nil
	}
	if *days <= 0 {
		return 0, ErrInvalidDuration
	}
	return *days, nil
}

// level1Expiry returns the expiry a Level1 grantor can hand out
func level1Expiry(doc *models.AuthDocument, grantor string, now time.Time) (time.Time, error) {
	g, ok := doc.Level1[grantor]
	if !ok {
		return time.Time{}, ErrUnauthorized
	}
	if !g.Active(now) {
		return time.Time{}, ErrGrantorExpired
	}
	return g.ExpiresAt, nil
}

func activeLevel1(doc *models.AuthDocument, principal string, now time.Time) bool {
	g, ok := doc.Level1[principal]
	return ok && g.Active(now)
}

// groupOpen treats a missing expiry as an open-ended window
func groupOpen(access models.GroupAccess, now time.Time) bool {
	if !access.AllowAllMembers {
		return false
	}
	return access.ExpiresAt == nil || now.Before(*access.ExpiresAt)
}
