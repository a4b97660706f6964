package peermgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/internal/core/filter"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

// fakeNetwork 可控的 Network 实现
type fakeNetwork struct {
	mu           sync.Mutex
	running      bool
	policy       *filter.Composite
	connects     chan types.PeerID
	deregistered chan types.PeerID
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		running:      true,
		policy:       filter.NewComposite(),
		connects:     make(chan types.PeerID, 16),
		deregistered: make(chan types.PeerID, 16),
	}
}

func (f *fakeNetwork) IsRunning() bool { return f.running }

func (f *fakeNetwork) Connect(_ context.Context, peer *types.Peer) (*connection.PeerConnection, error) {
	f.connects <- peer.ID
	return nil, nil
}

func (f *fakeNetwork) DeregisterPeer(peer *types.Peer) bool {
	f.deregistered <- peer.ID
	return true
}

func (f *fakeNetwork) Policy() *filter.Composite { return f.policy }

func denyAddr(t *testing.T, id types.PeerID) *multiaddr.Multiaddr {
	t.Helper()
	m, err := multiaddr.NewMultiaddr("/p2p/" + id.String())
	require.NoError(t, err)
	return m
}

func setup(t *testing.T) (*fakeNetwork, *eventbus.Bus, *clock.Mock, *Manager) {
	t.Helper()

	net := newFakeNetwork()
	bus := eventbus.NewBus()
	clk := clock.NewMock()

	m := New(net, bus, clk)
	require.NoError(t, m.Start())
	t.Cleanup(func() { m.Stop() })

	return net, bus, clk, m
}

// emitNotReachable 发布不可达事件并等待死亡集收录
func emitNotReachable(t *testing.T, bus *eventbus.Bus, m *Manager, peer *types.Peer, wantLen int) {
	t.Helper()

	em, err := bus.Emitter(new(types.EvtPeerNotReachable))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPeerNotReachable{Peer: peer}))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.DeadPeers()) == wantLen {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("死亡集未达到期望大小 %d", wantLen)
}

func TestNotReachableAddsDeadEntry(t *testing.T) {
	net, bus, _, m := setup(t)

	peer := types.NewPeer("QmDead")
	emitNotReachable(t, bus, m, peer, 1)

	entries := m.DeadPeers()
	require.Len(t, entries, 1)
	assert.Equal(t, DefaultInitialBackoff, entries[0].Backoff)

	// 拒绝条目 /p2p/<id> 已写入
	assert.True(t, net.policy.Deny.Contains(denyAddr(t, peer.ID)))
}

func TestBackoffDoubles(t *testing.T) {
	_, bus, _, m := setup(t)

	peer := types.NewPeer("QmDead")
	emitNotReachable(t, bus, m, peer, 1)

	em, err := bus.Emitter(new(types.EvtPeerNotReachable))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPeerNotReachable{Peer: peer}))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries := m.DeadPeers()
		if len(entries) == 1 && entries[0].Backoff == 2*DefaultInitialBackoff {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("退避未倍增")
}

func TestPermanentDeregistrationPastCeiling(t *testing.T) {
	net, bus, _, m := setup(t)
	m.SetBackoff(time.Minute, 2*time.Minute)

	peer := types.NewPeer("QmDead")
	emitNotReachable(t, bus, m, peer, 1)

	em, err := bus.Emitter(new(types.EvtPeerNotReachable))
	require.NoError(t, err)
	defer em.Close()

	// 1m -> 2m（等于上限，保留）
	require.NoError(t, em.Emit(types.EvtPeerNotReachable{Peer: peer}))
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		entries := m.DeadPeers()
		if len(entries) == 1 && entries[0].Backoff == 2*time.Minute {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// 2m -> 4m 超过上限：永久注销
	require.NoError(t, em.Emit(types.EvtPeerNotReachable{Peer: peer}))

	select {
	case id := <-net.deregistered:
		assert.Equal(t, peer.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("超过退避上限未注销节点")
	}
	assert.Empty(t, m.DeadPeers())
}

func TestReachableClearsEntry(t *testing.T) {
	net, bus, _, m := setup(t)

	peer := types.NewPeer("QmBack")
	emitNotReachable(t, bus, m, peer, 1)

	// 构造 ConnectionEstablished 事件的连接引用
	conn := &fakeConnRef{peer: peer}
	em, err := bus.Emitter(new(types.EvtConnectionEstablished))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtConnectionEstablished{Conn: conn}))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(m.DeadPeers()) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, m.DeadPeers())
	assert.False(t, net.policy.Deny.Contains(denyAddr(t, peer.ID)))
}

func TestScanRetriesDueEntries(t *testing.T) {
	net, bus, clk, m := setup(t)

	peer := types.NewPeer("QmRetry")
	emitNotReachable(t, bus, m, peer, 1)

	// 推进到下次尝试时间之后触发扫描
	clk.Add(DefaultInitialBackoff + time.Second)

	select {
	case id := <-net.connects:
		assert.Equal(t, peer.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("到期条目未触发重连")
	}

	// 重连前临时撤掉拒绝条目
	assert.False(t, net.policy.Deny.Contains(denyAddr(t, peer.ID)))
}

// fakeConnRef 测试用连接引用
type fakeConnRef struct {
	peer *types.Peer
}

func (f *fakeConnRef) ID() string                        { return "test-conn" }
func (f *fakeConnRef) Direction() types.Direction        { return types.DirOutbound }
func (f *fakeConnRef) RemotePeer() *types.Peer           { return f.peer }
func (f *fakeConnRef) RemoteAddr() *multiaddr.Multiaddr  { return nil }
