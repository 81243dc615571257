package authz

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rongwang/groupledger/internal/models"
)

const expiryLayout = "2006-01-02 15:04"

// ListGrants renders every grant relevant to groupID, expired ones included,
// with expiry times shown in loc.
func (a *Authority) ListGrants(doc *models.AuthDocument, groupID string, now time.Time, loc *time.Location) string {
	var b strings.Builder

	b.WriteString("操作员：")
	operators := append([]string(nil), doc.Operators...)
	sort.Strings(operators)
	if len(operators) == 0 {
		b.WriteString("无")
	} else {
		b.WriteString(strings.Join(operators, ", "))
	}
	b.WriteString("\n")

	writeGrants(&b, "一级授权", doc.Level1, now, loc)
	writeGrants(&b, "二级授权", doc.Level2, now, loc)

	b.WriteString("群组授权：")
	if access, ok := doc.Groups[groupID]; ok && access.AllowAllMembers {
		b.WriteString(describeWindow(access.ExpiresAt, now, loc))
	} else {
		b.WriteString("未开启")
	}
	return b.String()
}

// DescribeExpiry answers when principal's access to groupID ends
func (a *Authority) DescribeExpiry(doc *models.AuthDocument, principal, groupID string, now time.Time, loc *time.Location) string {
	principal = models.NormalizePrincipal(principal)

	switch tier := a.TierOf(doc, principal, groupID, now); tier {
	case models.TierOwner, models.TierOperator:
		return fmt.Sprintf("%s：%s，永久有效", principal, tierLabel(tier))
	case models.TierLevel1:
		return fmt.Sprintf("%s：%s，%s", principal, tierLabel(tier), describeWindow(ptr(doc.Level1[principal].ExpiresAt), now, loc))
	case models.TierLevel2:
		return fmt.Sprintf("%s：%s，%s", principal, tierLabel(tier), describeWindow(ptr(doc.Level2[principal].ExpiresAt), now, loc))
	case models.TierGroupWide:
		return fmt.Sprintf("%s：%s，%s", principal, tierLabel(tier), describeWindow(doc.Groups[groupID].ExpiresAt, now, loc))
	}

	if g, ok := doc.Level1[principal]; ok {
		return fmt.Sprintf("%s：%s已于 %s 过期", principal, tierLabel(models.TierLevel1), g.ExpiresAt.In(loc).Format(expiryLayout))
	}
	if g, ok := doc.Level2[principal]; ok {
		return fmt.Sprintf("%s：%s已于 %s 过期", principal, tierLabel(models.TierLevel2), g.ExpiresAt.In(loc).Format(expiryLayout))
	}
	return fmt.Sprintf("%s：未授权", principal)
}

func writeGrants(b *strings.Builder, label string, grants map[string]models.Grant, now time.Time, loc *time.Location) {
	fmt.Fprintf(b, "%s（%d）\n", label, len(grants))
	names := make([]string, 0, len(grants))
	for name := range grants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g := grants[name]
		fmt.Fprintf(b, "  %s ← %s，%s\n", name, g.GrantedBy, describeWindow(ptr(g.ExpiresAt), now, loc))
	}
}

func describeWindow(expiresAt *time.Time, now time.Time, loc *time.Location) string {
	if expiresAt == nil {
		return "永久有效"
	}
	when := expiresAt.In(loc).Format(expiryLayout)
	if !now.Before(*expiresAt) {
		return "已于 " + when + " 过期"
	}
	left := expiresAt.Sub(now)
	days := int(left / day)
	hours := int((left % day) / time.Hour)
	return fmt.Sprintf("到期 %s（剩余 %d天%d小时）", when, days, hours)
}

func tierLabel(t models.Tier) string {
	switch t {
	case models.TierOwner:
		return "所有者"
	case models.TierOperator:
		return "操作员"
	case models.TierLevel1:
		return "一级授权"
	case models.TierLevel2:
		return "二级授权"
	case models.TierGroupWide:
		return "群组授权"
	default:
		return "未授权"
	}
}

func ptr(t time.Time) *time.Time {
	return &t
}
