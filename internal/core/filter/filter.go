// Package filter 实现地址与节点的允许/拒绝策略
//
// 拒绝列表：默认允许；目标与任一模式前缀匹配即失败。
// 允许列表：为空时默认允许；非空时目标须与任一模式前缀匹配。
// 组合策略对两者取与。节点级判定要求节点的所有已知地址通过。
package filter

import (
	"sync"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// ============================================================================
//                              模式集合
// ============================================================================

// patternSet 线程安全的地址模式集合
type patternSet struct {
	mu       sync.RWMutex
	patterns []*multiaddr.Multiaddr
}

// add 添加模式（重复模式不追加）
func (s *patternSet) add(p *multiaddr.Multiaddr) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.patterns {
		if have.Equal(p) {
			return
		}
	}
	s.patterns = append(s.patterns, p)
}

// remove 移除模式
func (s *patternSet) remove(p *multiaddr.Multiaddr) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.patterns {
		if have.Equal(p) {
			s.patterns = append(s.patterns[:i], s.patterns[i+1:]...)
			return
		}
	}
}

// contains 是否包含模式
func (s *patternSet) contains(p *multiaddr.Multiaddr) bool {
	if p == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, have := range s.patterns {
		if have.Equal(p) {
			return true
		}
	}
	return false
}

// matchAny 目标是否与任一模式前缀匹配
func (s *patternSet) matchAny(target *multiaddr.Multiaddr) bool {
	if target == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.patterns {
		if p.Match(target) {
			return true
		}
	}
	return false
}

// size 模式数量
func (s *patternSet) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// clear 清空集合
func (s *patternSet) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = nil
}

// ============================================================================
//                              DenyList
// ============================================================================

// DenyList 拒绝列表
type DenyList struct {
	set patternSet
}

// NewDenyList 创建拒绝列表
func NewDenyList() *DenyList {
	return &DenyList{}
}

// Add 添加拒绝模式
func (d *DenyList) Add(p *multiaddr.Multiaddr) { d.set.add(p) }

// Remove 移除拒绝模式
func (d *DenyList) Remove(p *multiaddr.Multiaddr) { d.set.remove(p) }

// Contains 是否包含模式
func (d *DenyList) Contains(p *multiaddr.Multiaddr) bool { return d.set.contains(p) }

// Allows 目标是否通过（不与任何模式前缀匹配）
func (d *DenyList) Allows(target *multiaddr.Multiaddr) bool {
	return !d.set.matchAny(target)
}

// Clear 清空列表
func (d *DenyList) Clear() { d.set.clear() }

// ============================================================================
//                              AllowList
// ============================================================================

// AllowList 允许列表
type AllowList struct {
	set patternSet
}

// NewAllowList 创建允许列表
func NewAllowList() *AllowList {
	return &AllowList{}
}

// Add 添加允许模式
func (a *AllowList) Add(p *multiaddr.Multiaddr) { a.set.add(p) }

// Remove 移除允许模式
func (a *AllowList) Remove(p *multiaddr.Multiaddr) { a.set.remove(p) }

// Contains 是否包含模式
func (a *AllowList) Contains(p *multiaddr.Multiaddr) bool { return a.set.contains(p) }

// Allows 目标是否通过（列表为空或与任一模式前缀匹配）
func (a *AllowList) Allows(target *multiaddr.Multiaddr) bool {
	if a.set.size() == 0 {
		return true
	}
	return a.set.matchAny(target)
}

// Clear 清空列表
func (a *AllowList) Clear() { a.set.clear() }

// ============================================================================
//                              Composite
// ============================================================================

// Composite 组合策略（拒绝列表与允许列表取与）
type Composite struct {
	Deny  *DenyList
	Allow *AllowList
}

// NewComposite 创建组合策略
func NewComposite() *Composite {
	return &Composite{
		Deny:  NewDenyList(),
		Allow: NewAllowList(),
	}
}

// Allows 地址是否同时通过两个列表
func (c *Composite) Allows(target *multiaddr.Multiaddr) bool {
	return c.Deny.Allows(target) && c.Allow.Allows(target)
}

// AllowsPeer 节点是否通过（所有已知地址均须通过）
//
// 拒绝列表额外对节点的身份地址 /p2p/<id> 求值，使按节点拉黑
// 的条目无需枚举其传输地址即可生效。
func (c *Composite) AllowsPeer(p *types.Peer) bool {
	if p == nil {
		return false
	}

	identity := multiaddr.FromComponents(multiaddr.Component{
		Protocol: multiaddr.ProtoP2P,
		Value:    p.ID.String(),
	})
	if !c.Deny.Allows(identity) {
		return false
	}

	for _, addr := range p.Addrs() {
		if !c.Allows(addr) {
			return false
		}
	}
	return true
}

// Reset 清空两个列表
func (c *Composite) Reset() {
	c.Deny.Clear()
	c.Allow.Clear()
}
