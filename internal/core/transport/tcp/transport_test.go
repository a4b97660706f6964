package tcp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

func mustAddr(t *testing.T, s string) *multiaddr.Multiaddr {
	t.Helper()
	m, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return m
}

func TestListenAndDial(t *testing.T) {
	tr := New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan io.ReadWriteCloser, 1)
	actual, err := tr.Listen(ctx, mustAddr(t, "/ip4/127.0.0.1/tcp/0"),
		func(stream io.ReadWriteCloser, local, remote *multiaddr.Multiaddr) {
			// 入站处理器拿到本地与远端地址
			require.NotNil(t, local)
			require.NotNil(t, remote)
			accepted <- stream
		})
	require.NoError(t, err)

	// 端口 0 的请求返回内核分配的端口
	port, err := actual.ValueForProtocol(multiaddr.ProtoTCP)
	require.NoError(t, err)
	assert.NotEqual(t, "0", port)

	conn, err := tr.Dial(ctx, actual)
	require.NoError(t, err)
	defer conn.Close()

	var server io.ReadWriteCloser
	select {
	case server = <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("监听器未接受连接")
	}
	defer server.Close()

	// 双向字节流可用
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), buf)
}

func TestListenCancelClosesListener(t *testing.T) {
	tr := New()

	ctx, cancel := context.WithCancel(context.Background())

	actual, err := tr.Listen(ctx, mustAddr(t, "/ip4/127.0.0.1/tcp/0"),
		func(stream io.ReadWriteCloser, _, _ *multiaddr.Multiaddr) {
			stream.Close()
		})
	require.NoError(t, err)

	// 取消后监听套接字关闭：新拨号失败
	cancel()
	time.Sleep(100 * time.Millisecond)

	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	_, err = tr.Dial(dctx, actual)
	assert.Error(t, err)
}

func TestDialRefused(t *testing.T) {
	tr := New()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// 未监听的端口
	_, err := tr.Dial(ctx, mustAddr(t, "/ip4/127.0.0.1/tcp/1"))
	assert.Error(t, err)
}

func TestDialNonTCPAddr(t *testing.T) {
	tr := New()

	_, err := tr.Dial(context.Background(), mustAddr(t, "/ip4/127.0.0.1/udp/4001"))
	assert.Error(t, err)
}
