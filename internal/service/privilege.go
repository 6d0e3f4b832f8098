package service

import (
	"strings"
)

// PrivilegePolicy 白名单账户每次登录都会被强制设置为固定余额
// 这是沿用下来的特殊规则，与普通登录逻辑隔离，白名单为空时不生效
type PrivilegePolicy struct {
	names   map[string]struct{}
	credits int64
}

func NewPrivilegePolicy(names []string, credits int64) *PrivilegePolicy {
	p := &PrivilegePolicy{
		names:   make(map[string]struct{}, len(names)),
		credits: credits,
	}
	for _, n := range names {
		n = normalizeName(n)
		if n != "" {
			p.names[n] = struct{}{}
		}
	}
	return p
}

// Applies name 需为已归一化的账户名
func (p *PrivilegePolicy) Applies(name string) bool {
	if p == nil {
		return false
	}
	_, ok := p.names[name]
	return ok
}

func (p *PrivilegePolicy) Credits() int64 {
	return p.credits
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
