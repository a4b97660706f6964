package swarm

import (
	"errors"
	"fmt"

	"github.com/netweave/go-netweave/pkg/types"
)

var (
	// ErrSwarmClosed Swarm 已停止
	ErrSwarmClosed = errors.New("swarm: closed")
	// ErrNoLocalPeer 缺少本地节点
	ErrNoLocalPeer = errors.New("swarm: local peer required")
	// ErrPeerIDMissing 节点缺少标识
	ErrPeerIDMissing = errors.New("swarm: peer has no id")
	// ErrCannotRegisterSelf 不能注册本地节点自身
	ErrCannotRegisterSelf = errors.New("swarm: cannot register local peer")
	// ErrPeerDenied 节点被策略拒绝
	ErrPeerDenied = errors.New("swarm: peer denied by policy")
	// ErrAddrDenied 地址被策略拒绝
	ErrAddrDenied = errors.New("swarm: address denied by policy")
	// ErrDialToSelf 不能拨号自己
	ErrDialToSelf = errors.New("swarm: dial to self attempted")
	// ErrNoAddresses 没有可拨号地址
	ErrNoAddresses = errors.New("swarm: no dialable addresses")
	// ErrNoPeerIDInAddr 地址第三个协议必须是节点标识
	ErrNoPeerIDInAddr = errors.New("swarm: address must carry /ipfs or /p2p peer id as third protocol")
	// ErrAlreadyListening 地址已在监听
	ErrAlreadyListening = errors.New("swarm: already listening on address")
	// ErrUnknownPeer 未知节点
	ErrUnknownPeer = errors.New("swarm: unknown peer")
)

// DialError 聚合的拨号失败
type DialError struct {
	// Peer 目标节点
	Peer types.PeerID
	// Errs 各地址的失败原因
	Errs error
}

// Error 实现 error
func (e *DialError) Error() string {
	return fmt.Sprintf("swarm: dial %s failed: %v", e.Peer.ShortString(), e.Errs)
}

// Unwrap 返回聚合错误
func (e *DialError) Unwrap() error {
	return e.Errs
}
