package autodial

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/go-netweave/internal/core/connection"
	"github.com/netweave/go-netweave/internal/core/eventbus"
	"github.com/netweave/go-netweave/pkg/types"
)

// fakeNetwork 可控的 Network 实现
type fakeNetwork struct {
	mu      sync.Mutex
	running bool
	active  int
	known   []*types.Peer
	dialed  []types.PeerID
	dialCh  chan types.PeerID
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{running: true, dialCh: make(chan types.PeerID, 16)}
}

func (f *fakeNetwork) IsRunning() bool { return f.running }

func (f *fakeNetwork) ActiveConnections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeNetwork) Connect(_ context.Context, peer *types.Peer) (*connection.PeerConnection, error) {
	f.mu.Lock()
	f.dialed = append(f.dialed, peer.ID)
	f.mu.Unlock()
	f.dialCh <- peer.ID
	return nil, nil
}

func (f *fakeNetwork) KnownPeers() []*types.Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Peer{}, f.known...)
}

func (f *fakeNetwork) IsAllowed(*types.Peer) bool { return true }

func TestDialOnDiscovery(t *testing.T) {
	net := newFakeNetwork()
	bus := eventbus.NewBus()

	ad := New(net, bus, 16)
	require.NoError(t, ad.Start())
	defer ad.Stop()

	em, err := bus.Emitter(new(types.EvtPeerDiscovered))
	require.NoError(t, err)
	defer em.Close()

	peer := types.NewPeer("QmDiscovered")
	require.NoError(t, em.Emit(types.EvtPeerDiscovered{Peer: peer}))

	// 低于下限：发现的节点被直接拨号
	select {
	case id := <-net.dialCh:
		assert.Equal(t, peer.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("发现节点后未触发拨号")
	}
}

func TestNoDialWhenMinZero(t *testing.T) {
	net := newFakeNetwork()
	bus := eventbus.NewBus()

	ad := New(net, bus, 0)
	require.NoError(t, ad.Start())
	defer ad.Stop()

	em, err := bus.Emitter(new(types.EvtPeerDiscovered))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPeerDiscovered{Peer: types.NewPeer("QmDiscovered")}))

	// 下限为零：不应有任何拨号
	select {
	case <-net.dialCh:
		t.Fatal("min_connections=0 时不应拨号")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestNoDialAtOrAboveMin(t *testing.T) {
	net := newFakeNetwork()
	net.active = 2
	bus := eventbus.NewBus()

	ad := New(net, bus, 2)
	require.NoError(t, ad.Start())
	defer ad.Stop()

	em, err := bus.Emitter(new(types.EvtPeerDiscovered))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPeerDiscovered{Peer: types.NewPeer("QmDiscovered")}))

	select {
	case <-net.dialCh:
		t.Fatal("活跃连接数已达下限时不应拨号")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRedialOnDisconnect(t *testing.T) {
	net := newFakeNetwork()
	bus := eventbus.NewBus()

	// 候选：无连接地址的已知节点；刚断开的节点被排除
	disconnected := types.NewPeer("QmGone")
	candidate := types.NewPeer("QmCandidate")
	net.known = []*types.Peer{disconnected, candidate}

	ad := New(net, bus, 4)
	require.NoError(t, ad.Start())
	defer ad.Stop()

	em, err := bus.Emitter(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPeerDisconnected{Peer: disconnected}))

	select {
	case id := <-net.dialCh:
		assert.Equal(t, candidate.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("断开后未补拨候选节点")
	}
}

func TestDisconnectNoCandidate(t *testing.T) {
	net := newFakeNetwork()
	bus := eventbus.NewBus()

	// 唯一已知节点就是刚断开的节点：无候选
	gone := types.NewPeer("QmGone")
	net.known = []*types.Peer{gone}

	ad := New(net, bus, 4)
	require.NoError(t, ad.Start())
	defer ad.Stop()

	em, err := bus.Emitter(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer em.Close()

	require.NoError(t, em.Emit(types.EvtPeerDisconnected{Peer: gone}))

	select {
	case <-net.dialCh:
		t.Fatal("无候选时不应拨号")
	case <-time.After(300 * time.Millisecond):
	}
}
