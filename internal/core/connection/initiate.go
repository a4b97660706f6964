package connection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/netweave/go-netweave/internal/core/muxer/mplex"
	ms "github.com/netweave/go-netweave/internal/core/protocol/multistream"
	"github.com/netweave/go-netweave/internal/core/security"
	"github.com/netweave/go-netweave/pkg/types"
)

// Initiate 出站握手状态机
//
// 阶段：
//  1. 基础流上的 multistream 头部握手
//  2. 依注册顺序协商安全信道并执行握手（可能替换流；全部失败
//     时以聚合错误中止）
//  3. 在（可能已替换的）流上再次做 multistream 头部握手
//  4. 协商多路复用器，构造发起方 Muxer，绑定并启动读循环
//  5. 打开身份子流，执行身份协议，校验远端 id == hash(公钥)
//     并注册远端节点
//
// 任一阶段失败：释放流、取消三个完成槽、传播错误。
func (c *PeerConnection) Initiate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			c.Dispose()
		}
	}()

	s := c.stream()
	if s == nil {
		return ErrDisposed
	}

	// 阶段 1：multistream 头部
	if err = ms.HandshakeOutbound(s); err != nil {
		return fmt.Errorf("multistream header: %w", err)
	}

	// 阶段 2：安全信道
	if err = c.initiateSecurity(ctx); err != nil {
		return err
	}
	s = c.stream()
	if s == nil {
		return ErrDisposed
	}

	// 阶段 3：认证流上的 multistream 头部
	if err = ms.HandshakeOutbound(s); err != nil {
		return fmt.Errorf("multistream header after security: %w", err)
	}

	// 阶段 4：多路复用器
	if _, err = ms.SelectFrom(s, []string{mplex.ProtocolID}); err != nil {
		return fmt.Errorf("muxer negotiation: %w", err)
	}

	mux := mplex.NewMuxer(s, true)
	c.bindMuxer(mux)
	go mux.ProcessRequests(c.ctx)

	// 阶段 5：身份协议
	if err = c.initiateIdentity(ctx); err != nil {
		return err
	}

	remote := c.RemotePeer()
	logger.Debug("出站握手完成",
		"connID", c.id,
		"remotePeer", remote.ID.ShortString())

	return nil
}

// initiateSecurity 依注册顺序尝试安全信道
func (c *PeerConnection) initiateSecurity(ctx context.Context) error {
	c.protoMu.Lock()
	channels := append([]security.SecureChannel{}, c.securityChannels...)
	c.protoMu.Unlock()

	if len(channels) == 0 {
		return ErrNoSecurityChannel
	}

	expectedRemote := types.EmptyPeerID
	if p := c.RemotePeer(); p != nil {
		expectedRemote = p.ID
	}

	var errs error
	for _, ch := range channels {
		s := c.stream()
		if s == nil {
			return ErrDisposed
		}

		if _, err := ms.SelectFrom(s, []string{ch.ID()}); err != nil {
			if errors.Is(err, ms.ErrNegotiationFailed) {
				// 对端拒绝该信道，流仍可用，尝试下一个
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", ch.ID(), err))
				continue
			}
			return fmt.Errorf("security negotiation: %w", err)
		}

		secured, sess, err := ch.Secure(ctx, s, c.privKey, expectedRemote, types.DirOutbound)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ch.ID(), err))
			return fmt.Errorf("%w: %w", ErrSecurityFailed, errs)
		}

		c.replaceStream(secured)
		return c.completeSecurity(sess)
	}

	return fmt.Errorf("%w: %w", ErrSecurityFailed, errs)
}

// initiateIdentity 在新子流上执行身份协议
func (c *PeerConnection) initiateIdentity(ctx context.Context) error {
	c.protoMu.Lock()
	identity := c.identity
	c.protoMu.Unlock()

	if identity == nil {
		// 未挂载身份协议时握手到复用器为止
		return nil
	}

	mux := c.Muxer()
	if mux == nil {
		return ErrNoMuxer
	}

	name := identity.ProtocolName()
	sub, err := mux.NewNamedStream(ctx, name)
	if err != nil {
		return fmt.Errorf("open identity stream: %w", err)
	}
	defer sub.Close()

	if _, err := c.EstablishProtocol(ctx, name, sub); err != nil {
		return fmt.Errorf("identity negotiation: %w", err)
	}

	peer, err := identity.RunInitiator(ctx, c, sub)
	if err != nil {
		return fmt.Errorf("identity exchange: %w", err)
	}

	if _, err := c.CompleteIdentity(peer); err != nil {
		return fmt.Errorf("register remote peer: %w", err)
	}

	return nil
}
