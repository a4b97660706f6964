package netweave

import (
	"fmt"
	"time"

	"github.com/netweave/go-netweave/internal/core/autodial"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// config 节点配置
type config struct {
	privKey          crypto.PrivateKey
	listenAddrs      []string
	minConnections   int
	transportTimeout time.Duration
	denyAddrs        []*multiaddr.Multiaddr
	allowAddrs       []*multiaddr.Multiaddr
	psk              []byte

	// insecure 无密钥模式（明文信道，测试用）
	insecure   bool
	insecureID types.PeerID
}

// defaultConfig 默认配置
func defaultConfig() *config {
	return &config{
		minConnections:   autodial.DefaultMinConnections,
		transportTimeout: 30 * time.Second,
	}
}

// Option 节点选项
type Option func(*config) error

// WithIdentity 设置本地身份私钥
func WithIdentity(priv crypto.PrivateKey) Option {
	return func(c *config) error {
		c.privKey = priv
		return nil
	}
}

// WithListenAddrs 设置启动时的监听地址
func WithListenAddrs(addrs ...string) Option {
	return func(c *config) error {
		c.listenAddrs = append(c.listenAddrs, addrs...)
		return nil
	}
}

// WithMinConnections 设置最小连接数下限
func WithMinConnections(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("netweave: MinConnections must be non-negative")
		}
		c.minConnections = n
		return nil
	}
}

// WithTransportTimeout 设置传输层连接超时
func WithTransportTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("netweave: transport timeout must be positive")
		}
		c.transportTimeout = d
		return nil
	}
}

// WithDenyList 预置地址拒绝列表
func WithDenyList(addrs ...string) Option {
	return func(c *config) error {
		for _, a := range addrs {
			maddr, err := multiaddr.NewMultiaddr(a)
			if err != nil {
				return err
			}
			c.denyAddrs = append(c.denyAddrs, maddr)
		}
		return nil
	}
}

// WithAllowList 预置地址允许列表
func WithAllowList(addrs ...string) Option {
	return func(c *config) error {
		for _, a := range addrs {
			maddr, err := multiaddr.NewMultiaddr(a)
			if err != nil {
				return err
			}
			c.allowAddrs = append(c.allowAddrs, maddr)
		}
		return nil
	}
}

// WithPrivateNetwork 设置私有网络预共享密钥
func WithPrivateNetwork(psk []byte) Option {
	return func(c *config) error {
		c.psk = psk
		return nil
	}
}

// WithInsecure 无密钥模式
//
// 不生成身份密钥，使用明文信道与给定标识。仅用于测试。
func WithInsecure(id types.PeerID) Option {
	return func(c *config) error {
		c.insecure = true
		c.insecureID = id
		return nil
	}
}
