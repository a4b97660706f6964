package multiaddr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMultiaddr(t *testing.T) {
	t.Run("解析与回写", func(t *testing.T) {
		for _, s := range []string{
			"/ip4/127.0.0.1/tcp/4001",
			"/ip4/0.0.0.0/tcp/0",
			"/ip6/::1/tcp/4001",
			"/dns4/example.com/tcp/443",
			"/ip4/127.0.0.1/tcp/4001/ipfs/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N",
			"/ip4/127.0.0.1/udp/4001/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N",
		} {
			m, err := NewMultiaddr(s)
			require.NoError(t, err, s)
			assert.Equal(t, s, m.String())
		}
	})

	t.Run("非法输入", func(t *testing.T) {
		for _, s := range []string{
			"",
			"ip4/127.0.0.1",
			"/ip4",
			"/ip4/not-an-ip/tcp/80",
			"/ip4/127.0.0.1/tcp/70000",
			"/bogus/1",
		} {
			_, err := NewMultiaddr(s)
			assert.Error(t, err, s)
		}
	})
}

func TestMatch(t *testing.T) {
	full, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N")
	require.NoError(t, err)

	prefix, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	other, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4002")
	require.NoError(t, err)

	// 前缀匹配是对称的
	assert.True(t, prefix.Match(full))
	assert.True(t, full.Match(prefix))
	assert.True(t, full.Match(full))

	assert.False(t, other.Match(full))
	assert.False(t, full.Match(other))
}

func TestPeerID(t *testing.T) {
	const id = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"

	withID, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001/ipfs/" + id)
	require.NoError(t, err)

	got, ok := withID.PeerID()
	require.True(t, ok)
	assert.Equal(t, id, got)

	bare, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	_, ok = bare.PeerID()
	assert.False(t, ok)

	// WithPeerID 幂等
	attached := bare.WithPeerID(id)
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4001/p2p/"+id, attached.String())
	assert.Equal(t, attached.String(), attached.WithPeerID(id).String())
}

func TestTransportTail(t *testing.T) {
	const id = "QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N"

	m, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001/p2p/" + id)
	require.NoError(t, err)

	assert.Equal(t, "/ip4/127.0.0.1/tcp/4001", m.TransportTail().String())

	// 不带标识的地址原样返回
	bare, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	assert.True(t, bare.TransportTail().Equal(bare))
}

func TestWildcard(t *testing.T) {
	wild, err := NewMultiaddr("/ip4/0.0.0.0/tcp/4001")
	require.NoError(t, err)
	assert.True(t, wild.IsWildcard())

	expanded := wild.ExpandWildcard()
	require.NotEmpty(t, expanded)
	for _, a := range expanded {
		assert.False(t, a.IsWildcard(), a.String())
		port, err := a.ValueForProtocol(ProtoTCP)
		require.NoError(t, err)
		assert.Equal(t, "4001", port)
	}

	concrete, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)
	assert.False(t, concrete.IsWildcard())
	assert.Len(t, concrete.ExpandWildcard(), 1)
}

func TestToNetAddrString(t *testing.T) {
	m, err := NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	network, hostport, err := m.ToNetAddrString()
	require.NoError(t, err)
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:4001", hostport)

	bad, err := NewMultiaddr("/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N")
	require.NoError(t, err)
	_, _, err = bad.ToNetAddrString()
	assert.Error(t, err)
}
