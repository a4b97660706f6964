// Package eventbus 实现事件总线
//
// 进程内按类型广播的发布/订阅：订阅句柄拥有订阅生命周期，
// 关闭即退订。发布不阻塞，慢消费者会丢弃事件。
// 单一发布者对单一订阅者保持 FIFO 顺序。
package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/netweave/go-netweave/pkg/lib/log"
)

var logger = log.Logger("core/eventbus")

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrClosed 事件总线已关闭
	ErrClosed = errors.New("eventbus closed")
	// ErrInvalidEventType 无效的事件类型
	ErrInvalidEventType = errors.New("invalid event type")
	// ErrNonPointerType 非指针类型
	ErrNonPointerType = errors.New("subscribe called with non-pointer type")
)

// ============================================================================
// Bus 实现
// ============================================================================

// Bus 事件总线
type Bus struct {
	mu sync.RWMutex

	// nodes 事件类型节点映射
	nodes map[reflect.Type]*node
}

// node 事件类型节点
type node struct {
	lk        sync.Mutex
	typ       reflect.Type
	sinks     []*Subscription // 订阅者列表
	nEmitters atomic.Int32    // 发射器引用计数
	keepLast  bool            // 是否保持最后一个事件（Stateful）
	last      interface{}     // 最后一个事件
	dropCount atomic.Int64    // 丢弃事件计数（用于慢消费者警告）
}

// NewBus 创建新的事件总线
func NewBus() *Bus {
	return &Bus{
		nodes: make(map[reflect.Type]*node),
	}
}

// Subscribe 订阅事件
//
// eventType 传入事件结构的指针（如 new(types.EvtPeerDiscovered)）。
func (b *Bus) Subscribe(eventType interface{}, opts ...SubscriptionOpt) (*Subscription, error) {
	if eventType == nil {
		return nil, ErrInvalidEventType
	}

	settings := &subscriptionSettings{
		Buffer: 16, // 默认缓冲区大小
	}
	for _, opt := range opts {
		opt(settings)
	}

	typ := reflect.TypeOf(eventType)
	if typ == nil {
		return nil, ErrInvalidEventType
	}
	if typ.Kind() != reflect.Ptr {
		return nil, ErrNonPointerType
	}
	elemType := typ.Elem()

	sub := &Subscription{
		bus: b,
		typ: elemType,
		out: make(chan interface{}, settings.Buffer),
	}

	b.withNode(elemType, func(n *node) {
		n.sinks = append(n.sinks, sub)

		// 如果是有状态节点，发送最后的事件
		if n.keepLast && n.last != nil {
			select {
			case sub.out <- n.last:
			default:
			}
		}
	})

	return sub, nil
}

// Emitter 获取发射器
func (b *Bus) Emitter(eventType interface{}, opts ...EmitterOpt) (*Emitter, error) {
	if eventType == nil {
		return nil, ErrInvalidEventType
	}

	settings := &emitterSettings{}
	for _, opt := range opts {
		opt(settings)
	}

	typ := reflect.TypeOf(eventType)
	if typ == nil {
		return nil, ErrInvalidEventType
	}
	if typ.Kind() != reflect.Ptr {
		return nil, ErrNonPointerType
	}
	elemType := typ.Elem()

	var n *node
	b.withNode(elemType, func(nd *node) {
		n = nd
		n.nEmitters.Add(1)
		if settings.Stateful {
			n.keepLast = true
		}
	})

	return &Emitter{bus: b, node: n, typ: elemType}, nil
}

// withNode 获取或创建节点并在其锁内执行回调
func (b *Bus) withNode(typ reflect.Type, cb func(*node)) {
	b.mu.Lock()
	n, ok := b.nodes[typ]
	if !ok {
		n = &node{typ: typ}
		b.nodes[typ] = n
	}
	b.mu.Unlock()

	n.lk.Lock()
	defer n.lk.Unlock()
	cb(n)
}

// removeSub 从总线移除订阅
func (b *Bus) removeSub(sub *Subscription) {
	b.mu.RLock()
	n, ok := b.nodes[sub.typ]
	b.mu.RUnlock()
	if !ok {
		return
	}

	n.lk.Lock()
	defer n.lk.Unlock()
	for i, s := range n.sinks {
		if s == sub {
			n.sinks = append(n.sinks[:i], n.sinks[i+1:]...)
			break
		}
	}
}

// tryDropNode 没有发射器和订阅者时删除节点
func (b *Bus) tryDropNode(typ reflect.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n, ok := b.nodes[typ]
	if !ok {
		return
	}

	n.lk.Lock()
	drop := len(n.sinks) == 0 && n.nEmitters.Load() == 0
	n.lk.Unlock()

	if drop {
		delete(b.nodes, typ)
	}
}

// emit 向节点的所有订阅者投递事件（node 方法）
//
// 投递是同步的：返回时事件已进入每个订阅者的缓冲通道
// （或因缓冲满被丢弃并计数）。
func (n *node) emit(event interface{}) {
	n.lk.Lock()
	defer n.lk.Unlock()

	if n.keepLast {
		n.last = event
	}

	for _, sink := range n.sinks {
		select {
		case sink.out <- event:
		default:
			dropped := n.dropCount.Add(1)
			if dropped == 1 || dropped%100 == 0 {
				logger.Warn("订阅者消费过慢，事件被丢弃",
					"eventType", n.typ.String(),
					"droppedTotal", dropped)
			}
		}
	}
}
