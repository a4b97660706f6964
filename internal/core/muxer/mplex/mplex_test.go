package mplex

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufRWC 只写的内存通道（检查线路字节用）
type bufRWC struct {
	bytes.Buffer
}

func (b *bufRWC) Close() error { return nil }

func TestNewStreamWireFormat(t *testing.T) {
	buf := &bufRWC{}
	m := NewMuxer(buf, true)

	sub, err := m.NewNamedStream(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), sub.StreamID())

	// 帧：varint(1000<<3 | 0) || varint(3) || "foo"，无终止换行
	var want []byte
	want = append(want, varint.ToUvarint(1000<<3|uint64(PacketNewStream))...)
	want = append(want, varint.ToUvarint(3)...)
	want = append(want, []byte("foo")...)

	assert.Equal(t, want, buf.Bytes())
}

func TestFrameRoundTrip(t *testing.T) {
	f := &Frame{StreamID: 1000, Type: PacketMessageInitiator, Payload: []byte("hello")}

	got, err := ReadFrame(bytes.NewReader(f.Marshal()))
	require.NoError(t, err)
	assert.Equal(t, f.StreamID, got.StreamID)
	assert.Equal(t, f.Type, got.Type)
	assert.Equal(t, f.Payload, got.Payload)

	// 空 payload 的关闭帧
	cl := &Frame{StreamID: 7, Type: PacketCloseInitiator}
	got, err = ReadFrame(bytes.NewReader(cl.Marshal()))
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.StreamID)
	assert.Empty(t, got.Payload)
}

// pipePair 返回两端互联的发起方/应答方多路复用器
func pipePair(t *testing.T) (*Muxer, *Muxer, func()) {
	t.Helper()
	a, b := net.Pipe()
	init := NewMuxer(a, true)
	recv := NewMuxer(b, false)
	return init, recv, func() {
		init.Close()
		recv.Close()
	}
}

func TestOpenSubstreamRoundTrip(t *testing.T) {
	init, recv, cleanup := pipePair(t)
	defer cleanup()

	created := make(chan *Substream, 1)
	recv.OnSubstreamCreated(func(s *Substream) { created <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.ProcessRequests(ctx)
	go init.ProcessRequests(ctx)

	sub, err := init.NewNamedStream(ctx, "foo")
	require.NoError(t, err)

	var remote *Substream
	select {
	case remote = <-created:
	case <-time.After(3 * time.Second):
		t.Fatal("未观测到 SubstreamCreated")
	}

	// 名称一致；本端偶数、远端观测相同 ID
	assert.Equal(t, "foo", remote.StreamName())
	assert.Equal(t, sub.StreamID(), remote.StreamID())
	assert.Zero(t, sub.StreamID()%2)

	// 单条子流内字节按发送顺序交付
	_, err = sub.Write([]byte("ping"))
	require.NoError(t, err)
	_, err = sub.Write([]byte("-pong"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	total := 0
	for total < 9 {
		n, err := remote.Read(buf[total:])
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, "ping-pong", string(buf[:total]))
}

func TestCloseSubstream(t *testing.T) {
	init, recv, cleanup := pipePair(t)
	defer cleanup()

	created := make(chan *Substream, 1)
	closed := make(chan *Substream, 1)
	recv.OnSubstreamCreated(func(s *Substream) { created <- s })
	recv.OnSubstreamClosed(func(s *Substream) { closed <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.ProcessRequests(ctx)
	go init.ProcessRequests(ctx)

	sub, err := init.NewNamedStream(ctx, "foo")
	require.NoError(t, err)

	remote := <-created
	require.NoError(t, sub.Close())

	select {
	case c := <-closed:
		// 同一 ID 先 Created 后 Closed
		assert.Equal(t, remote.StreamID(), c.StreamID())
	case <-time.After(3 * time.Second):
		t.Fatal("未观测到 SubstreamClosed")
	}

	// 远端读到 EOF，复用器映射收缩
	buf := make([]byte, 4)
	_, err = remote.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, recv.Streams())
}

func TestLocalCloseStillAcceptsRemoteData(t *testing.T) {
	init, recv, cleanup := pipePair(t)
	defer cleanup()

	created := make(chan *Substream, 1)
	recv.OnSubstreamCreated(func(s *Substream) { created <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.ProcessRequests(ctx)
	go init.ProcessRequests(ctx)

	sub, err := init.NewNamedStream(ctx, "half")
	require.NoError(t, err)

	var remote *Substream
	select {
	case remote = <-created:
	case <-time.After(3 * time.Second):
		t.Fatal("未观测到 SubstreamCreated")
	}

	// 本地关闭写端：条目保留，远端写入仍进入读缓冲
	require.NoError(t, sub.Close())

	_, err = sub.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.Equal(t, 1, init.Streams())

	_, err = remote.Write([]byte("late"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(sub, buf)
	require.NoError(t, err)
	assert.Equal(t, "late", string(buf))

	// 远端的关闭帧到达后条目才被移除，读侧转为 EOF
	require.NoError(t, remote.Close())

	deadline := time.Now().Add(3 * time.Second)
	for init.Streams() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Zero(t, init.Streams())

	_, err = sub.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRemoteStreamFixesRole(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	recv := NewMuxer(b, false)

	go recv.ProcessRequests(context.Background())
	defer recv.Close()

	created := make(chan *Substream, 1)
	recv.OnSubstreamCreated(func(s *Substream) { created <- s })

	ns := &Frame{StreamID: 1000, Type: PacketNewStream, Payload: []byte("first")}
	_, err := a.Write(ns.Marshal())
	require.NoError(t, err)

	select {
	case <-created:
	case <-time.After(3 * time.Second):
		t.Fatal("未观测到远端子流")
	}

	// 远端开启的子流同样固定角色
	assert.ErrorIs(t, recv.SetInitiator(true), ErrRoleFixed)
}

func TestStreamIDParityAndMonotone(t *testing.T) {
	init, recv, cleanup := pipePair(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go recv.ProcessRequests(ctx)
	go init.ProcessRequests(ctx)

	s1, err := init.NewNamedStream(ctx, "a")
	require.NoError(t, err)
	s2, err := init.NewNamedStream(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, uint64(1000), s1.StreamID())
	assert.Equal(t, uint64(1002), s2.StreamID())

	r1, err := recv.NewNamedStream(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), r1.StreamID())
}

func TestSetInitiator(t *testing.T) {
	m := NewMuxer(&bufRWC{}, true)

	// 翻转到应答方使计数落到 1001
	require.NoError(t, m.SetInitiator(false))
	sub, err := m.NewNamedStream(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), sub.StreamID())

	// 首条子流之后角色固定
	assert.ErrorIs(t, m.SetInitiator(true), ErrRoleFixed)
}

func TestUnknownPacketTypeTerminates(t *testing.T) {
	a, b := net.Pipe()
	recv := NewMuxer(b, false)

	errCh := make(chan error, 1)
	go func() {
		errCh <- recv.ProcessRequests(context.Background())
	}()

	// header: id=1, type=7（非法）
	frame := varint.ToUvarint(1<<3 | 7)
	frame = append(frame, varint.ToUvarint(0)...)
	_, err := a.Write(frame)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInvalidData)
	case <-time.After(3 * time.Second):
		t.Fatal("读循环未因非法数据终止")
	}
	assert.True(t, recv.IsClosed())
	a.Close()
}

func TestIDCollisionSkipped(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	recv := NewMuxer(b, false)

	count := make(chan struct{}, 2)
	recv.OnSubstreamCreated(func(*Substream) { count <- struct{}{} })

	go recv.ProcessRequests(context.Background())

	ns := &Frame{StreamID: 500, Type: PacketNewStream, Payload: []byte("dup")}
	_, err := a.Write(ns.Marshal())
	require.NoError(t, err)
	_, err = a.Write(ns.Marshal())
	require.NoError(t, err)

	<-count
	select {
	case <-count:
		t.Fatal("冲突的子流 ID 不应重复创建")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, recv.Streams())
	recv.Close()
}

func TestReceiverEchoesOddNewStream(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	recv := NewMuxer(b, false)

	go recv.ProcessRequests(context.Background())
	defer recv.Close()

	// 应答方观测到奇数 ID 时回发 NewStream
	ns := &Frame{StreamID: 1001, Type: PacketNewStream, Payload: []byte("odd")}
	_, err := a.Write(ns.Marshal())
	require.NoError(t, err)

	a.SetReadDeadline(time.Now().Add(3 * time.Second))
	echo, err := ReadFrame(a)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), echo.StreamID)
	assert.Equal(t, PacketNewStream, echo.Type)
	assert.Equal(t, []byte("odd"), echo.Payload)
}

func TestTeardownDropsSubstreams(t *testing.T) {
	init, recv, cleanup := pipePair(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	go recv.ProcessRequests(ctx)
	go init.ProcessRequests(ctx)

	sub, err := init.NewNamedStream(ctx, "x")
	require.NoError(t, err)

	// 取消触发清理：子流读写失败，映射清空
	cancel()

	deadline := time.Now().Add(3 * time.Second)
	for !init.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, init.IsClosed())

	_, err = sub.Write([]byte("y"))
	assert.Error(t, err)
	assert.Zero(t, init.Streams())
}
