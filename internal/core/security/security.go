// Package security 定义安全信道能力
//
// 安全信道包装原始流，产出经过认证的流。选择由 multistream
// 在已注册的加密协议集合上按注册顺序协商；全部失败时
// 连接初始化以聚合错误失败。
package security

import (
	"context"
	"io"

	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/types"
)

// Session 安全握手结果
type Session struct {
	// RemotePublicKey 对端身份公钥（明文信道为 nil）
	RemotePublicKey crypto.PublicKey

	// RemotePeer 对端节点标识（由公钥派生；明文信道沿用期望值）
	RemotePeer types.PeerID
}

// SecureChannel 安全信道能力
type SecureChannel interface {
	// ID 返回带版本的协议名（如 /noise/1.0.0）
	ID() string

	// Secure 在原始流上完成握手，返回认证后的流
	//
	// remote 是期望的对端标识（入站时可为空）。
	// 失败时调用方负责关闭原始流。
	Secure(ctx context.Context, rw io.ReadWriteCloser, priv crypto.PrivateKey, remote types.PeerID, dir types.Direction) (io.ReadWriteCloser, *Session, error)
}
