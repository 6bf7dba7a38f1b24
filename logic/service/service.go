// Package service 实现聊天核心的业务动作：消息、审核、社区、频道、私聊与认证。
//
// 每个动作在成功后向总线发布恰好一个（或按社区各一个）事件；
// 失败时不发布任何事件。
package service

import (
	"errors"
	"strings"
	"unicode"

	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/ceyewan/rchat/repo"
)

// Publisher 事件发布者，由连接管理器实现
type Publisher interface {
	Publish(ev event.Event)
}

// Filter 脏话过滤原语
type Filter interface {
	// Filter 返回屏蔽后的文本以及是否命中
	Filter(text string) (string, bool)
	Contains(text string) bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(event.Event) {}

type nopFilter struct{}

func (nopFilter) Filter(text string) (string, bool) { return text, false }
func (nopFilter) Contains(string) bool              { return false }

func publisherOrNop(p Publisher) Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func filterOrNop(f Filter) Filter {
	if f == nil {
		return nopFilter{}
	}
	return f
}

// storeErr 将仓储错误映射为业务错误：ErrNotFound 映射为 NotFound，其余为 Internal
func storeErr(err error, notFound string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.NotFound("%s", notFound)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Internal(err, "storage failure")
}

func internal(err error) error {
	return apperr.Internal(err, "storage failure")
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// validateName 校验用户名、社区名、频道名：1 到 64 个可打印 ASCII 字符且不含脏话
func validateName(kind, name string, filter Filter) error {
	if name == "" {
		return apperr.Validation("%s cannot be empty", kind)
	}
	if len(name) > model.MaxNameLength {
		return apperr.Validation("%s must be at most %d characters long", kind, model.MaxNameLength)
	}
	if !isPrintableASCII(name) {
		return apperr.Validation("%s must contain only printable ASCII characters", kind)
	}
	if filter.Contains(name) {
		return apperr.Validation("%s contains inappropriate language", kind)
	}
	return nil
}

func sameName(a, b string) bool {
	return strings.EqualFold(a, b)
}
