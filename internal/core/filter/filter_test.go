package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
	"github.com/netweave/go-netweave/pkg/types"
)

func mustAddr(t *testing.T, s string) *multiaddr.Multiaddr {
	t.Helper()
	m, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return m
}

func TestDenyList(t *testing.T) {
	d := NewDenyList()

	target := mustAddr(t, "/ip4/10.0.0.1/tcp/4001")

	// 默认允许
	assert.True(t, d.Allows(target))

	// 任一前缀匹配即拒绝
	pattern := mustAddr(t, "/ip4/10.0.0.1")
	d.Add(pattern)
	assert.False(t, d.Allows(target))
	assert.True(t, d.Allows(mustAddr(t, "/ip4/10.0.0.2/tcp/4001")))
	assert.True(t, d.Contains(pattern))

	d.Remove(pattern)
	assert.True(t, d.Allows(target))
}

func TestAllowList(t *testing.T) {
	a := NewAllowList()

	target := mustAddr(t, "/ip4/10.0.0.1/tcp/4001")

	// 空列表允许一切
	assert.True(t, a.Allows(target))

	// 非空列表要求前缀匹配
	a.Add(mustAddr(t, "/ip4/192.168.1.1"))
	assert.False(t, a.Allows(target))
	assert.True(t, a.Allows(mustAddr(t, "/ip4/192.168.1.1/tcp/9000")))
}

func TestComposite(t *testing.T) {
	c := NewComposite()

	target := mustAddr(t, "/ip4/10.0.0.1/tcp/4001")
	assert.True(t, c.Allows(target))

	// 两个列表取与
	c.Allow.Add(mustAddr(t, "/ip4/10.0.0.1"))
	assert.True(t, c.Allows(target))

	c.Deny.Add(mustAddr(t, "/ip4/10.0.0.1/tcp/4001"))
	assert.False(t, c.Allows(target))

	c.Reset()
	assert.True(t, c.Allows(target))
}

func TestAllowsPeer(t *testing.T) {
	c := NewComposite()

	peer := types.NewPeer("QmPeer")
	peer.AddAddrs(
		mustAddr(t, "/ip4/10.0.0.1/tcp/4001"),
		mustAddr(t, "/ip4/192.168.1.5/tcp/4001"),
	)

	assert.True(t, c.AllowsPeer(peer))

	// 任一地址不通过则节点不通过
	c.Deny.Add(mustAddr(t, "/ip4/192.168.1.5"))
	assert.False(t, c.AllowsPeer(peer))
	c.Deny.Clear()

	// 身份条目 /p2p/<id> 直接拉黑节点
	c.Deny.Add(mustAddr(t, "/p2p/QmPeer"))
	assert.False(t, c.AllowsPeer(peer))

	assert.False(t, c.AllowsPeer(nil))
}
