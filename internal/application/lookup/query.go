package lookup

import (
	"strconv"
	"strings"

	"github.com/xiebiao/displayno/internal/domain/slot"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100

	// 内部ID片段的最短长度：太短的片段几乎匹配所有订单
	minIDFragment = 4
	// 纯数字输入达到这个长度才按内部ID片段匹配，更短的只当作号码
	minDigitIDFragment = 8

	maxQueryLength = 64
)

// ErrEmptyQuery 搜索关键字为空
var ErrEmptyQuery = apperrors.InvalidInput("搜索关键字不能为空")

// ParsedQuery 规范化后的搜索条件
type ParsedQuery struct {
	Number     int    // 0表示不按号码匹配
	IDFragment string // 空表示不按内部ID匹配
}

// Empty 没有任何可匹配的条件
func (q ParsedQuery) Empty() bool {
	return q.Number == 0 && q.IDFragment == ""
}

// ParseQuery 规范化搜索输入
//
//	"0042" / "42" / "#42"  → 号码42（去掉前导0和#）
//	"3f1c2a9e"              → 内部ID片段（同时也是8位数字时按号码匹配不到）
//	"3F1C-2A9E"             → 内部ID片段（统一小写）
//
// 号码超出1..9999的纯数字输入只按内部ID片段匹配。
func ParseQuery(raw string) (ParsedQuery, error) {
	q := strings.TrimSpace(raw)
	q = strings.TrimPrefix(q, "#")
	q = strings.TrimSpace(q)
	if q == "" {
		return ParsedQuery{}, ErrEmptyQuery
	}
	if len(q) > maxQueryLength {
		return ParsedQuery{}, apperrors.InvalidInput("搜索关键字过长")
	}

	var parsed ParsedQuery
	if isDigits(q) {
		trimmed := strings.TrimLeft(q, "0")
		if trimmed != "" && len(trimmed) <= 4 {
			n, _ := strconv.Atoi(trimmed)
			if n >= slot.MinDisplayNumber && n <= slot.MaxDisplayNumber {
				parsed.Number = n
			}
		}
		if len(q) >= minDigitIDFragment {
			parsed.IDFragment = q
		}
		return parsed, nil
	}

	lower := strings.ToLower(q)
	if len(lower) >= minIDFragment && isIDFragment(lower) {
		parsed.IDFragment = lower
	}
	return parsed, nil
}

// NormalizeLimit 默认20，最大100
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// isIDFragment 只包含小写十六进制字符和连字符
func isIDFragment(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || c == '-' {
			continue
		}
		return false
	}
	return true
}
