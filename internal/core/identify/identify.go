package identify

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/log"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

var logger = log.Logger("core/identify")

// 协议常量
const (
	// ProtocolName 身份协议名（不含版本）
	ProtocolName = "netweave/id"
	// ProtocolVersion 身份协议版本
	ProtocolVersion = "1.0.0"

	// DefaultProtocolVersion 节点协议版本串
	DefaultProtocolVersion = "netweave/1.0.0"
	// DefaultAgentVersion 节点代理版本串
	DefaultAgentVersion = "go-netweave/0.1.0"
)

// Service 身份协议服务
//
// 同时提供发起侧执行器与应答侧处理器。
type Service struct {
	localPeer       *types.Peer
	protocolVersion string
	agentVersion    string
}

// 确保实现发起侧接口
var _ connection.IdentityRunner = (*Service)(nil)

// NewService 创建身份协议服务
func NewService(localPeer *types.Peer) *Service {
	return &Service{
		localPeer:       localPeer,
		protocolVersion: DefaultProtocolVersion,
		agentVersion:    DefaultAgentVersion,
	}
}

// ProtocolName 身份协议名
func (s *Service) ProtocolName() string {
	return ProtocolName
}

// Protocol 返回可注册到连接协议表的应答侧协议
func (s *Service) Protocol() connection.Protocol {
	return connection.Protocol{
		Name:    ProtocolName,
		Version: ProtocolVersion,
		Handler: s.handleInbound,
	}
}

// localRecord 构造本端身份记录
func (s *Service) localRecord() *Record {
	return &Record{
		ProtocolVersion: s.protocolVersion,
		AgentVersion:    s.agentVersion,
		PublicKey:       s.localPeer.PublicKey(),
		ListenAddrs:     s.localPeer.Addrs(),
	}
}

// RunInitiator 发起侧身份交换
//
// 先写本端记录再读对端记录，往返时间记入对端延迟。
func (s *Service) RunInitiator(ctx context.Context, conn *connection.PeerConnection, rw io.ReadWriteCloser) (*types.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := s.localRecord()
	rec.ObservedAddr = conn.RemoteAddr()

	start := time.Now()
	if err := WriteRecord(rw, rec); err != nil {
		return nil, fmt.Errorf("write identity record: %w", err)
	}

	remote, err := ReadRecord(rw)
	if err != nil {
		return nil, fmt.Errorf("read identity record: %w", err)
	}
	rtt := time.Since(start)

	peer, err := peerFromRecord(remote, conn)
	if err != nil {
		return nil, err
	}
	peer.SetLatency(rtt)

	logger.Debug("身份交换完成（发起侧）",
		"remotePeer", peer.ID.ShortString(),
		"agent", remote.AgentVersion,
		"rtt", rtt)

	return peer, nil
}

// handleInbound 应答侧身份交换
//
// 读对端记录并回写本端记录；身份确立后把入站观测地址并入
// 远端节点的地址列表。
func (s *Service) handleInbound(ctx context.Context, conn *connection.PeerConnection, rw io.ReadWriteCloser) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	remote, err := ReadRecord(rw)
	if err != nil {
		return fmt.Errorf("read identity record: %w", err)
	}

	rec := s.localRecord()
	rec.ObservedAddr = conn.RemoteAddr()
	if err := WriteRecord(rw, rec); err != nil {
		return fmt.Errorf("write identity record: %w", err)
	}

	peer, err := peerFromRecord(remote, conn)
	if err != nil {
		return err
	}

	// 入站观测地址并入远端地址列表
	if ra := conn.RemoteAddr(); ra != nil {
		peer.AddAddrs(ra.WithPeerID(peer.ID.String()))
	}

	registered, err := conn.CompleteIdentity(peer)
	if err != nil {
		return err
	}

	logger.Debug("身份交换完成（应答侧）",
		"remotePeer", registered.ID.ShortString(),
		"agent", remote.AgentVersion)

	return rw.Close()
}

// peerFromRecord 从身份记录构造并校验节点
//
// 校验：记录必须携带公钥；已有期望标识时必须等于公钥哈希。
func peerFromRecord(rec *Record, conn *connection.PeerConnection) (*types.Peer, error) {
	if len(rec.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: missing public key", connection.ErrBadIdentity)
	}

	id, err := crypto.PeerIDFromPublicKeyBytes(rec.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", connection.ErrBadIdentity, err)
	}

	if expected := conn.RemotePeer(); expected != nil && !expected.ID.IsEmpty() && expected.ID != id {
		return nil, fmt.Errorf("%w: expected %s, derived %s",
			connection.ErrBadIdentity, expected.ID.ShortString(), id.ShortString())
	}

	peer := types.NewPeer(id)
	peer.SetPublicKey(rec.PublicKey)
	peer.SetAgentVersion(rec.AgentVersion)
	peer.SetProtocolVersion(rec.ProtocolVersion)

	var addrs []*multiaddr.Multiaddr
	for _, a := range rec.ListenAddrs {
		addrs = append(addrs, a.WithPeerID(id.String()))
	}
	peer.AddAddrs(addrs...)

	return peer, nil
}
