package connection

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/netweave/go-netweave/internal/core/muxer/mplex"
	ms "github.com/netweave/go-netweave/internal/core/protocol/multistream"
	"github.com/netweave/go-netweave/pkg/types"
)

// ReadMessages 入站握手读循环
//
// 最外层处理器是对连接协议表的 multistream 分发：表中（至少）
// 含有安全信道集合、身份协议与多路复用器。安全、复用器与身份的
// 完成槽随对应处理器运行而异步填充。
//
// 循环在流结束、取消信号或流被置空时退出；瞬时 I/O 失败记录
// 日志。多路复用器协商通过后循环让位给复用器读循环。
func (c *PeerConnection) ReadMessages(ctx context.Context) error {
	s := c.stream()
	if s == nil {
		return ErrDisposed
	}

	// 外层 multistream 头部（应答侧）
	if err := ms.HandshakeInbound(s); err != nil {
		logger.Debug("入站头部握手失败", "connID", c.id, "error", err)
		c.Dispose()
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s = c.stream()
		if s == nil {
			return nil
		}

		proto, err := ms.NegotiateNext(c.hasProtocol, s)
		if err != nil {
			if isStreamEnd(err) || ctx.Err() != nil {
				logger.Debug("入站读循环结束", "connID", c.id, "error", err)
				c.Dispose()
				return nil
			}
			if errors.Is(err, ms.ErrInvalidFrame) || errors.Is(err, ms.ErrBadHeader) ||
				errors.Is(err, ms.ErrListNotSupported) {
				// 协议层错误：关闭连接并传播
				logger.Debug("入站协商协议错误", "connID", c.id, "error", err)
				c.Dispose()
				return err
			}
			// 瞬时 I/O 失败记录后继续读
			logger.Debug("入站协商读取失败", "connID", c.id, "error", err)
			continue
		}

		if err := c.dispatchBase(ctx, proto); err != nil {
			c.Dispose()
			return err
		}

		// 多路复用器接管通道后读循环结束
		if c.Muxer() != nil {
			return nil
		}
	}
}

// dispatchBase 基础流上的协议分发
func (c *PeerConnection) dispatchBase(ctx context.Context, proto string) error {
	// 安全信道：以应答方执行握手并替换流
	if ch := c.securityChannelFor(proto); ch != nil {
		s := c.stream()
		if s == nil {
			return ErrDisposed
		}

		expected := types.EmptyPeerID
		if p := c.RemotePeer(); p != nil {
			expected = p.ID
		}

		secured, sess, err := ch.Secure(ctx, s, c.privKey, expected, types.DirInbound)
		if err != nil {
			return fmt.Errorf("inbound security %s: %w", proto, err)
		}
		c.replaceStream(secured)
		if err := c.completeSecurity(sess); err != nil {
			return err
		}

		// 对端在认证流上重新进行头部握手
		if err := ms.HandshakeInbound(secured); err != nil {
			return fmt.Errorf("multistream header after security: %w", err)
		}
		return nil
	}

	// 多路复用器：构造应答方 Muxer 并移交通道
	if proto == mplex.ProtocolID {
		s := c.stream()
		if s == nil {
			return ErrDisposed
		}

		mux := mplex.NewMuxer(s, false)
		c.bindMuxer(mux)
		go mux.ProcessRequests(c.ctx)
		return nil
	}

	// 注册协议直接出现在基础流上（少见，但协议表允许）
	if handler, ok := c.handlerFor(proto); ok {
		s := c.stream()
		if s == nil {
			return ErrDisposed
		}
		if err := handler(ctx, c, nopCloser{s}); err != nil {
			logger.Debug("基础流协议处理器失败", "proto", proto, "error", err)
		}
		return nil
	}

	logger.Warn("协商通过但协议缺失", "proto", proto)
	return nil
}

// isStreamEnd 判断错误是否意味着流已结束
func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}

// nopCloser 防止基础流处理器关闭整条连接的流
type nopCloser struct {
	io.ReadWriter
}

func (nopCloser) Close() error { return nil }
