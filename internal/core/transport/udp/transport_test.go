package udp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/go-netweave/internal/core/transport"
	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

func TestListenUnsupported(t *testing.T) {
	tr := New()

	laddr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/udp/0")
	require.NoError(t, err)

	_, err = tr.Listen(context.Background(), laddr, nil)
	assert.ErrorIs(t, err, transport.ErrListenUnsupported)
}

func TestDialConnectedSocket(t *testing.T) {
	tr := New()

	raddr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/udp/9")
	require.NoError(t, err)

	// UDP 无握手：connected 套接字即刻可用
	conn, err := tr.Dial(context.Background(), raddr)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestDialRejectsNonUDP(t *testing.T) {
	tr := New()

	raddr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/9")
	require.NoError(t, err)

	_, err = tr.Dial(context.Background(), raddr)
	assert.Error(t, err)
}
