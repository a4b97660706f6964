package pnet

import (
	"crypto/rand"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPSK(t *testing.T) []byte {
	t.Helper()
	psk := make([]byte, PSKLen)
	_, err := rand.Read(psk)
	require.NoError(t, err)
	return psk
}

func TestBadPSKLen(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrBadPSKLen)
}

func TestProtectedRoundTrip(t *testing.T) {
	psk := testPSK(t)

	pa, err := New(psk)
	require.NoError(t, err)
	pb, err := New(psk)
	require.NoError(t, err)

	a, b := net.Pipe()

	type result struct {
		stream io.ReadWriteCloser
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := pb.Protect(b)
		done <- result{s, err}
	}()

	sa, err := pa.Protect(a)
	require.NoError(t, err)

	rb := <-done
	require.NoError(t, rb.err)
	sb := rb.stream

	// 双向往返
	go func() {
		buf := make([]byte, 5)
		io.ReadFull(sb, buf)
		sb.Write(buf)
	}()

	_, err = sa.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	_, err = io.ReadFull(sa, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), buf)
}

func TestMismatchedPSKGarbles(t *testing.T) {
	pa, err := New(testPSK(t))
	require.NoError(t, err)
	pb, err := New(testPSK(t))
	require.NoError(t, err)

	a, b := net.Pipe()

	type result struct {
		stream io.ReadWriteCloser
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := pb.Protect(b)
		done <- result{s, err}
	}()

	sa, err := pa.Protect(a)
	require.NoError(t, err)

	rb := <-done
	require.NoError(t, rb.err)
	sb := rb.stream

	go sa.Write([]byte("plain"))

	buf := make([]byte, 5)
	_, err = io.ReadFull(sb, buf)
	require.NoError(t, err)

	// 密钥不匹配：解密结果不是原文
	assert.NotEqual(t, []byte("plain"), buf)
}
