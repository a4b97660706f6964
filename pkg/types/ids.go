// Package types 定义 NetWeave 的基础类型
//
// 这是整个系统的最底层包，除 pkg/lib/multiaddr 外不依赖任何其他内部包。
// 所有类型都是纯值类型或带内部锁的小型记录，用于在各模块间传递数据。
package types

import (
	"errors"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
//
// 由公钥派生：Base58(SHA256(序列化公钥))。
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type PeerID string

// EmptyPeerID 空节点 ID
const EmptyPeerID = PeerID("")

// ErrInvalidPeerID 无效的节点 ID 错误
var ErrInvalidPeerID = errors.New("invalid peer ID: must be Base58")

// String 返回 PeerID 的字符串表示
func (id PeerID) String() string {
	return string(id)
}

// ShortString 返回 PeerID 的短字符串表示
//
// 格式：前 8 个字符，用于日志中的简短标识。
func (id PeerID) ShortString() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// ParsePeerID 从字符串解析 PeerID
//
// 仅支持 Base58 编码（用于用户输入和配置）。
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrInvalidPeerID
	}
	b, err := base58.Decode(s)
	if err != nil || len(b) == 0 {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerID(s), nil
}

// Base58Encode Base58 编码
func Base58Encode(b []byte) string {
	return base58.Encode(b)
}

// Base58Decode Base58 解码
func Base58Decode(s string) ([]byte, error) {
	return base58.Decode(s)
}
