// Package udp 提供基于 UDP 的传输层实现
//
// UDP 传输仅支持拨号侧；监听未实现，Listen 返回
// transport.ErrListenUnsupported。
package udp

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/netweave/go-netweave/internal/core/transport"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

// Transport UDP 传输层实现
type Transport struct{}

// 确保实现接口
var _ transport.Transport = (*Transport)(nil)

// New 创建 UDP 传输层
func New() *Transport {
	return &Transport{}
}

// Factory 返回传输工厂
func Factory() transport.Factory {
	return func() transport.Transport { return New() }
}

// Dial 建立出站连接（connected UDP 套接字）
func (t *Transport) Dial(ctx context.Context, raddr *multiaddr.Multiaddr) (io.ReadWriteCloser, error) {
	network, hostport, err := raddr.TransportTail().ToNetAddrString()
	if err != nil {
		return nil, fmt.Errorf("udp dial %s: %w", raddr, err)
	}
	if network != multiaddr.ProtoUDP {
		return nil, fmt.Errorf("udp dial %s: not a udp address", raddr)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", hostport)
	if err != nil {
		return nil, fmt.Errorf("udp dial %s: %w", hostport, err)
	}

	return conn, nil
}

// Listen 未实现
func (t *Transport) Listen(_ context.Context, laddr *multiaddr.Multiaddr, _ transport.AcceptHandler) (*multiaddr.Multiaddr, error) {
	return nil, fmt.Errorf("%w: udp (%s)", transport.ErrListenUnsupported, laddr)
}
