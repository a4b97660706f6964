// Package plaintext 提供不加密的安全信道变体
//
// 未配置私钥时使用：完成安全建立但原样返回流。
package plaintext

import (
	"context"
	"io"

	"github.com/netweave/go-netweave/internal/core/security"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/types"
)

// ProtocolID 明文信道协议标识
const ProtocolID = "/plaintext/1.0.0"

// Channel 明文信道
type Channel struct{}

// 确保实现接口
var _ security.SecureChannel = (*Channel)(nil)

// New 创建明文信道
func New() *Channel {
	return &Channel{}
}

// ID 返回协议标识
func (c *Channel) ID() string {
	return ProtocolID
}

// Secure 原样返回流
func (c *Channel) Secure(_ context.Context, rw io.ReadWriteCloser, _ crypto.PrivateKey, remote types.PeerID, _ types.Direction) (io.ReadWriteCloser, *security.Session, error) {
	return rw, &security.Session{RemotePeer: remote}, nil
}
