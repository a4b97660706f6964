// Package multiaddr 实现多协议地址
//
// Multiaddr 是有序的 (协议, 值) 元组序列，文本形式为
// /<proto>/<val>/<proto>/<val>/...，可选地以节点标识协议
// （/p2p/<id> 或 /ipfs/<id>）结尾。
//
// 两个地址"匹配"当且仅当其中一个是另一个在协议层面的前缀，
// 这是允许/拒绝过滤器的判定基础。
package multiaddr

import (
	"fmt"
	"strings"
)

// Component 单个 (协议, 值) 元组
type Component struct {
	// Protocol 协议名称
	Protocol string

	// Value 协议值（无值协议为空字符串）
	Value string
}

// String 返回组件的文本形式
func (c Component) String() string {
	if c.Value == "" {
		return "/" + c.Protocol
	}
	return "/" + c.Protocol + "/" + c.Value
}

// Multiaddr 多协议地址
//
// 不可变：所有修改操作返回新的 Multiaddr。
type Multiaddr struct {
	components []Component
}

// NewMultiaddr 解析文本形式的多协议地址
func NewMultiaddr(s string) (*Multiaddr, error) {
	if s == "" || s[0] != '/' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	parts := strings.Split(s, "/")[1:]
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}

	var comps []Component
	for i := 0; i < len(parts); {
		name := parts[i]
		proto, ok := ProtocolWithName(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, name)
		}
		i++

		var value string
		if proto.HasValue {
			if i >= len(parts) {
				return nil, fmt.Errorf("%w: protocol %q requires a value", ErrInvalidFormat, name)
			}
			value = parts[i]
			if proto.validate != nil {
				if err := proto.validate(value); err != nil {
					return nil, fmt.Errorf("%w: %s", err, s)
				}
			}
			i++
		}

		comps = append(comps, Component{Protocol: name, Value: value})
	}

	return &Multiaddr{components: comps}, nil
}

// FromComponents 从组件序列构造地址
func FromComponents(comps ...Component) *Multiaddr {
	out := make([]Component, len(comps))
	copy(out, comps)
	return &Multiaddr{components: out}
}

// String 返回地址的文本形式
func (m *Multiaddr) String() string {
	var b strings.Builder
	for _, c := range m.components {
		b.WriteString(c.String())
	}
	return b.String()
}

// Components 返回组件副本
func (m *Multiaddr) Components() []Component {
	out := make([]Component, len(m.components))
	copy(out, m.components)
	return out
}

// Len 返回组件数量
func (m *Multiaddr) Len() int {
	return len(m.components)
}

// Protocols 返回按序的协议名称
func (m *Multiaddr) Protocols() []string {
	out := make([]string, len(m.components))
	for i, c := range m.components {
		out[i] = c.Protocol
	}
	return out
}

// ValueForProtocol 返回第一个匹配协议的值
func (m *Multiaddr) ValueForProtocol(name string) (string, error) {
	for _, c := range m.components {
		if c.Protocol == name {
			return c.Value, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrProtocolNotFound, name)
}

// Equal 比较两个地址是否相等
func (m *Multiaddr) Equal(other *Multiaddr) bool {
	if other == nil || len(m.components) != len(other.components) {
		return false
	}
	for i, c := range m.components {
		if other.components[i] != c {
			return false
		}
	}
	return true
}

// Match 判断两个地址是否匹配
//
// 匹配定义：其中一个是另一个在组件层面的前缀。
func (m *Multiaddr) Match(other *Multiaddr) bool {
	if other == nil {
		return false
	}
	short, long := m.components, other.components
	if len(short) > len(long) {
		short, long = long, short
	}
	for i, c := range short {
		if long[i] != c {
			return false
		}
	}
	return true
}

// PeerID 提取结尾的节点标识
//
// 仅当最后一个组件是 p2p/ipfs 协议时返回其值。
func (m *Multiaddr) PeerID() (string, bool) {
	if len(m.components) == 0 {
		return "", false
	}
	last := m.components[len(m.components)-1]
	if IsPeerIDProtocol(last.Protocol) {
		return last.Value, true
	}
	return "", false
}

// WithPeerID 返回附加 /p2p/<id> 结尾的地址
//
// 若地址已以节点标识结尾则原样返回。
func (m *Multiaddr) WithPeerID(id string) *Multiaddr {
	if _, ok := m.PeerID(); ok {
		return m
	}
	comps := append(m.Components(), Component{Protocol: ProtoP2P, Value: id})
	return &Multiaddr{components: comps}
}

// TransportTail 返回去掉结尾节点标识的地址
//
// 用于与监听地址做规范化比较（自拨号去重）。
func (m *Multiaddr) TransportTail() *Multiaddr {
	comps := m.Components()
	for len(comps) > 0 && IsPeerIDProtocol(comps[len(comps)-1].Protocol) {
		comps = comps[:len(comps)-1]
	}
	return &Multiaddr{components: comps}
}
