package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var workspaceCodeSpace = big.NewInt(1_000_000)

// GenerateWorkspaceCode 生成 6 位数字邀请码（允许前导 0）
func GenerateWorkspaceCode() (string, error) {
	n, err := rand.Int(rand.Reader, workspaceCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// IsWorkspaceCode 校验邀请码格式
func IsWorkspaceCode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
