package swarm

import (
	"time"

	"github.com/netweave/go-netweave/internal/core/bandwidth"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/security"
	"github.com/netweave/go-netweave/internal/core/transport"
	"github.com/netweave/go-netweave/pkg/interfaces"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

// Option Swarm 选项
type Option func(*Swarm) error

// WithPrivateKey 设置本地私钥
func WithPrivateKey(priv crypto.PrivateKey) Option {
	return func(s *Swarm) error {
		s.privKey = priv
		return nil
	}
}

// WithEventBus 设置事件总线
func WithEventBus(bus *eventbus.Bus) Option {
	return func(s *Swarm) error {
		s.bus = bus
		return nil
	}
}

// WithTransport 注册传输层
func WithTransport(protocol string, factory transport.Factory) Option {
	return func(s *Swarm) error {
		return s.transports.Register(protocol, factory)
	}
}

// WithSecurityChannel 挂载安全信道（按挂载顺序协商）
func WithSecurityChannel(ch security.SecureChannel) Option {
	return func(s *Swarm) error {
		s.securityChannels = append(s.securityChannels, ch)
		return nil
	}
}

// WithProtector 设置私有网络保护器
func WithProtector(p interfaces.NetworkProtector) Option {
	return func(s *Swarm) error {
		s.protector = p
		return nil
	}
}

// WithTransportConnectTimeout 设置传输层连接超时
func WithTransportConnectTimeout(d time.Duration) Option {
	return func(s *Swarm) error {
		s.cfg.TransportConnectTimeout = d
		return nil
	}
}

// WithDenyAddrs 预置拒绝列表
func WithDenyAddrs(addrs ...*multiaddr.Multiaddr) Option {
	return func(s *Swarm) error {
		for _, a := range addrs {
			s.policy.Deny.Add(a)
		}
		return nil
	}
}

// WithAllowAddrs 预置允许列表
func WithAllowAddrs(addrs ...*multiaddr.Multiaddr) Option {
	return func(s *Swarm) error {
		for _, a := range addrs {
			s.policy.Allow.Add(a)
		}
		return nil
	}
}

// WithGlobalCounter 设置进程级带宽计数器
func WithGlobalCounter(c *bandwidth.Counter) Option {
	return func(s *Swarm) error {
		s.globalCounter = c
		return nil
	}
}
