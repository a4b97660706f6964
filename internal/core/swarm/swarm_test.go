package swarm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/security/noise"
	"github.com/netweave/go-netweave/internal/core/transport/tcp"
	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// newTestSwarm 构造带真实身份与 TCP 传输的 Swarm
func newTestSwarm(t *testing.T) *Swarm {
	t.Helper()

	priv, pub, err := crypto.GenerateEd25519Key()
	require.NoError(t, err)
	id, err := crypto.PeerIDFromPublicKey(pub)
	require.NoError(t, err)

	local := types.NewPeer(id)
	pubBytes, err := crypto.MarshalPublicKey(pub)
	require.NoError(t, err)
	local.SetPublicKey(pubBytes)

	s, err := NewSwarm(local,
		WithPrivateKey(priv),
		WithTransport(multiaddr.ProtoTCP, tcp.Factory()),
		WithSecurityChannel(noise.New()),
		WithTransportConnectTimeout(10*time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	t.Cleanup(func() { s.Close() })
	return s
}

// listenLocal 在回环地址监听并返回带节点标识的完整地址
func listenLocal(t *testing.T, s *Swarm) *multiaddr.Multiaddr {
	t.Helper()

	req, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)

	actual, err := s.StartListening(req)
	require.NoError(t, err)

	// 端口为 0 的请求返回内核分配的端口
	port, err := actual.ValueForProtocol(multiaddr.ProtoTCP)
	require.NoError(t, err)
	require.NotEqual(t, "0", port)

	return actual.WithPeerID(s.LocalPeer().ID.String())
}

// eventually 在期限内轮询断言
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHappyDial(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	bAddr := listenLocal(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := a.ConnectAddr(ctx, bAddr)
	require.NoError(t, err)

	// 连接活跃，远端公钥与 B 一致
	assert.True(t, conn.IsActive())
	remote := conn.RemotePeer()
	require.NotNil(t, remote)
	assert.Equal(t, b.LocalPeer().ID, remote.ID)
	assert.Equal(t, b.LocalPeer().PublicKey(), remote.PublicKey())

	// A 的注册表包含 B
	_, known := a.PeerByID(b.LocalPeer().ID)
	assert.True(t, known)

	// B 侧在 3 秒内登记 A 且 connected_address 非空
	eventually(t, 3*time.Second, func() bool {
		peerA, ok := b.PeerByID(a.LocalPeer().ID)
		return ok && peerA.ConnectedAddr() != nil
	}, "B 未在期限内登记 A 的连接")
}

func TestDisconnectThenReconnect(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	bAddr := listenLocal(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	first, err := a.ConnectAddr(ctx, bAddr)
	require.NoError(t, err)

	require.NoError(t, a.DisconnectAddr(bAddr))

	// 双方的 connected_address 在 3 秒内清空
	eventually(t, 3*time.Second, func() bool {
		peerB, ok := a.PeerByID(b.LocalPeer().ID)
		return ok && peerB.ConnectedAddr() == nil
	}, "A 侧 connected_address 未清空")
	eventually(t, 3*time.Second, func() bool {
		peerA, ok := b.PeerByID(a.LocalPeer().ID)
		if !ok {
			return true // B 侧可能尚未注册 A；无连接即可
		}
		return peerA.ConnectedAddr() == nil
	}, "B 侧 connected_address 未清空")

	// 第二次连接产生新的活跃连接
	second, err := a.ConnectAddr(ctx, bAddr)
	require.NoError(t, err)
	assert.True(t, second.IsActive())
	assert.NotSame(t, first, second)
}

func TestSelfDialRejected(t *testing.T) {
	a := newTestSwarm(t)

	self, err := multiaddr.NewMultiaddr(
		fmt.Sprintf("/ip4/127.0.0.1/tcp/4001/p2p/%s", a.LocalPeer().ID))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = a.ConnectAddr(ctx, self)
	assert.ErrorIs(t, err, ErrCannotRegisterSelf)
}

func TestPolicyDeny(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	bAddr := listenLocal(t, b)

	// 拒绝列表命中 B 的地址前缀
	a.Policy().Deny.Add(bAddr.TransportTail())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := a.ConnectAddr(ctx, bAddr)
	assert.ErrorIs(t, err, ErrPeerDenied)
}

func TestPolicyAllowListExcludes(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	bAddr := listenLocal(t, b)

	// 允许列表只包含无关地址：B 不通过
	other, err := multiaddr.NewMultiaddr("/ip4/192.0.2.1")
	require.NoError(t, err)
	a.Policy().Allow.Add(other)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = a.ConnectAddr(ctx, bAddr)
	assert.ErrorIs(t, err, ErrPeerDenied)
}

func TestConcurrentConnectShared(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)

	bAddr := listenLocal(t, b)

	peerB, err := a.RegisterPeerAddress(bAddr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 并发 Connect 共享同一条连接（进行中拨号按节点去重）
	const callers = 4
	conns := make([]*connection.PeerConnection, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = a.Connect(ctx, peerB)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	for i := 1; i < callers; i++ {
		assert.Same(t, conns[0], conns[i])
	}
}

func TestInboundDedup(t *testing.T) {
	a := newTestSwarm(t)

	remote, err := multiaddr.NewMultiaddr("/ip4/192.0.2.9/tcp/5000")
	require.NoError(t, err)
	local, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	p1a, p1b := net.Pipe()
	p2a, p2b := net.Pipe()
	defer p1a.Close()
	defer p1b.Close()
	defer p2a.Close()

	// 第一条入站在握手中等待
	go a.onRemoteConnect(p1b, local, remote)

	// 留出第一条登记 pendingInbound 的时间
	time.Sleep(100 * time.Millisecond)

	// 同一远端地址的第二条入站被立即关闭
	done := make(chan struct{})
	go func() {
		a.onRemoteConnect(p2b, local, remote)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("重复入站未被快速拒绝")
	}

	// 第二条的流已被关闭：对端读立即失败
	p2a.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = p2a.Read(buf)
	assert.Error(t, err)
}

func TestStopStartStopIdempotent(t *testing.T) {
	s := newTestSwarm(t)

	listenLocal(t, s)
	require.NotEmpty(t, s.LocalPeer().Addrs())

	require.NoError(t, s.Stop())
	assert.Empty(t, s.LocalPeer().Addrs())
	assert.Empty(t, s.KnownPeers())

	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	assert.Empty(t, s.LocalPeer().Addrs())

	// 重复 Stop 无副作用
	require.NoError(t, s.Stop())
}

func TestRegisterPeerMerge(t *testing.T) {
	s := newTestSwarm(t)

	addr1, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001/p2p/QmRemotePeer1")
	require.NoError(t, err)

	p1, err := s.RegisterPeerAddress(addr1)
	require.NoError(t, err)

	// 重复注册同一地址不改变地址集合大小
	p2, err := s.RegisterPeerAddress(addr1)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Len(t, p1.Addrs(), 1)

	// 新地址并入同一记录
	addr2, err := multiaddr.NewMultiaddr("/ip4/10.0.0.1/tcp/4001/p2p/QmRemotePeer1")
	require.NoError(t, err)
	_, err = s.RegisterPeerAddress(addr2)
	require.NoError(t, err)
	assert.Len(t, p1.Addrs(), 2)
}

func TestRegisterPeerAddressRequiresID(t *testing.T) {
	s := newTestSwarm(t)

	bare, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	_, err = s.RegisterPeerAddress(bare)
	assert.ErrorIs(t, err, ErrNoPeerIDInAddr)
}

func TestPeerDiscoveredOnce(t *testing.T) {
	s := newTestSwarm(t)

	sub, err := s.EventBus().Subscribe(new(types.EvtPeerDiscovered))
	require.NoError(t, err)
	defer sub.Close()

	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001/p2p/QmRemotePeer1")
	require.NoError(t, err)

	_, err = s.RegisterPeerAddress(addr)
	require.NoError(t, err)
	_, err = s.RegisterPeerAddress(addr)
	require.NoError(t, err)

	// 仅首次插入发布 PeerDiscovered
	<-sub.Out()
	select {
	case <-sub.Out():
		t.Fatal("PeerDiscovered 重复发布")
	case <-time.After(100 * time.Millisecond):
	}
}
