package order

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateInternalOrderID 生成内部订单ID
//
// 使用128位随机UUID（v4），规范的小写带连字符格式：
//
//	3f1c2a9e-8b7d-4c21-9f0e-5a6b7c8d9e0f
//
// 不依赖数据库、不需要协调，多实例并发生成也不会冲突。
// 内部ID永不复用、不可修改，也不应作为顾客看到的订单标签（那是取餐号的职责）。
func GenerateInternalOrderID() string {
	return uuid.NewString()
}

// NormalizeInternalID 校验并规范化内部订单ID（统一转为小写规范格式）
func NormalizeInternalID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if len(id) != 36 {
		return "", ErrInvalidInternalID
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", ErrInvalidInternalID
	}
	return parsed.String(), nil
}
