package id

import (
	"strings"

	"github.com/google/uuid"
)

// 客户端临时 ID 前缀，服务端确认后 ID 保持不变
const tempPrefix = "tmp-"

// New 生成新的UUID（string格式）
func New() string {
	return uuid.New().String()
}

// NewTemp 生成客户端临时 ID
func NewTemp() string {
	return tempPrefix + uuid.New().String()
}

// IsTemp 判断是否为客户端临时 ID
func IsTemp(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}

// IsValid 验证UUID格式是否有效
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
