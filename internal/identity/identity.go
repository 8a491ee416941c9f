package identity

import (
	"errors"

	"digishop/internal/config"
)

// ============================================================
// 身份提供方协作边界
// ============================================================
//
// 核心不做任何令牌解析/会话管理，只消费已校验的身份结果。
// 正式环境把 Provider 接到外部身份服务即可
// ============================================================

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

var ErrTokenInvalid = errors.New("令牌无效或已过期")

// Identity 已校验的用户身份
type Identity struct {
	UserID int64
	Email  string
	Role   string
	Name   string
}

func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Provider 给定 Bearer 令牌，返回已校验的身份
type Provider interface {
	Verify(token string) (*Identity, error)
}

// StaticProvider 配置表实现（演示/自托管用）
// 无状态：令牌表来自配置文件，进程内不维护任何会话
type StaticProvider struct {
	tokens map[string]*Identity
}

func NewStaticProvider(cfg *config.AuthConfig) *StaticProvider {
	tokens := make(map[string]*Identity, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tokens[t.Token] = &Identity{
			UserID: t.UserID,
			Email:  t.Email,
			Role:   t.Role,
			Name:   t.Name,
		}
	}
	return &StaticProvider{tokens: tokens}
}

func (p *StaticProvider) Verify(token string) (*Identity, error) {
	id, ok := p.tokens[token]
	if !ok {
		return nil, ErrTokenInvalid
	}
	return id, nil
}
