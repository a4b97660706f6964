// Package transport 定义传输层能力与注册表
//
// 传输层负责按多协议地址打开双工字节流和监听入站连接。
// 注册表把传输协议名映射到传输工厂；Swarm 按地址中的
// 传输协议选择实例。
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

// AcceptHandler 入站流处理器
//
// 处理器抛出的错误只关闭该流，不影响监听器。
type AcceptHandler func(stream io.ReadWriteCloser, local, remote *multiaddr.Multiaddr)

// Transport 传输层能力
type Transport interface {
	// Dial 建立出站双工字节流
	//
	// 取消语义：建立前取消时释放底层套接字，
	// 返回取消错误或在释放后返回。超时由调用方控制。
	Dial(ctx context.Context, raddr *multiaddr.Multiaddr) (io.ReadWriteCloser, error)

	// Listen 监听入站连接
	//
	// 返回实际监听地址（端口为 0 时携带内核分配的端口）。
	// ctx 取消时关闭监听套接字。
	Listen(ctx context.Context, laddr *multiaddr.Multiaddr, handler AcceptHandler) (*multiaddr.Multiaddr, error)
}

// Factory 传输工厂
type Factory func() Transport

// ============================================================================
//                              Registry
// ============================================================================

// Registry 传输注册表
//
// 传输协议名 -> 工厂。实例按名惰性创建并缓存。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]Transport
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Transport),
	}
}

// Register 注册传输工厂
func (r *Registry) Register(protocol string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("transport factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[protocol] = factory
	delete(r.instances, protocol)
	return nil
}

// Get 按协议名获取传输实例
func (r *Registry) Get(protocol string) (Transport, error) {
	r.mu.RLock()
	if t, ok := r.instances[protocol]; ok {
		r.mu.RUnlock()
		return t, nil
	}
	factory, ok := r.factories[protocol]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransport, protocol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.instances[protocol]; ok {
		return t, nil
	}
	t := factory()
	r.instances[protocol] = t
	return t, nil
}

// ForAddr 按地址中的传输协议选择传输实例
func (r *Registry) ForAddr(addr *multiaddr.Multiaddr) (Transport, error) {
	for _, proto := range addr.Protocols() {
		r.mu.RLock()
		_, ok := r.factories[proto]
		r.mu.RUnlock()
		if ok {
			return r.Get(proto)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoTransport, addr)
}

// Protocols 返回已注册的传输协议名
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	return out
}
