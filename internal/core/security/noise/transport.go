package noise

import (
	"context"
	"errors"
	"io"

	"github.com/netweave/go-netweave/internal/core/security"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("security/noise")

// ProtocolID Noise 信道协议标识
const ProtocolID = "/noise/1.0.0"

// 错误定义
var (
	// ErrNoPrivateKey 缺少本地私钥
	ErrNoPrivateKey = errors.New("noise: local private key required")
	// ErrPeerIDMismatch 对端身份与期望不符
	ErrPeerIDMismatch = errors.New("noise: peer id mismatch")
	// ErrBadSignature 静态密钥绑定签名无效
	ErrBadSignature = errors.New("noise: invalid identity binding signature")
)

// Channel Noise 安全信道
type Channel struct{}

// 确保实现接口
var _ security.SecureChannel = (*Channel)(nil)

// New 创建 Noise 信道
func New() *Channel {
	return &Channel{}
}

// ID 返回协议标识
func (c *Channel) ID() string {
	return ProtocolID
}

// Secure 在原始流上执行 Noise XX 握手
func (c *Channel) Secure(ctx context.Context, rw io.ReadWriteCloser, priv crypto.PrivateKey, remote types.PeerID, dir types.Direction) (io.ReadWriteCloser, *security.Session, error) {
	if priv == nil {
		return nil, nil, ErrNoPrivateKey
	}

	isInitiator := dir == types.DirOutbound

	s, err := performHandshake(ctx, rw, priv, remote, isInitiator)
	if err != nil {
		logger.Debug("Noise 握手失败", "initiator", isInitiator, "error", err)
		return nil, nil, err
	}

	logger.Debug("Noise 握手成功",
		"initiator", isInitiator,
		"remotePeer", s.remotePeer.ShortString())

	return s, &security.Session{
		RemotePublicKey: s.remotePub,
		RemotePeer:      s.remotePeer,
	}, nil
}
