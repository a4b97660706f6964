package multistream

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteFrameString(&buf, "/multistream/1.0.0"))

	got, err := ReadFrameString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "/multistream/1.0.0", got)
}

func TestFrameEncoding(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrameString(&buf, "na"))

	// uvarint(len+1) || payload || 0x0a
	assert.Equal(t, []byte{0x03, 'n', 'a', 0x0a}, buf.Bytes())
}

func TestFrameMissingNewline(t *testing.T) {
	// 长度 3 但末尾不是换行符
	_, err := ReadFrame(bytes.NewReader([]byte{0x03, 'n', 'a', 'x'}))
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestSelectOneOf(t *testing.T) {
	t.Run("首个候选命中", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()

		table := map[string]bool{"/echo/1.0.0": true}

		done := make(chan error, 1)
		go func() {
			_, err := Negotiate(func(p string) bool { return table[p] }, b)
			done <- err
		}()

		selected, err := SelectOneOf([]string{"/echo/1.0.0"}, a)
		require.NoError(t, err)
		assert.Equal(t, "/echo/1.0.0", selected)
		require.NoError(t, <-done)
	})

	t.Run("na 后尝试下一个候选", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()

		table := map[string]bool{"/echo/1.0.0": true}

		done := make(chan string, 1)
		go func() {
			proto, _ := Negotiate(func(p string) bool { return table[p] }, b)
			done <- proto
		}()

		selected, err := SelectOneOf([]string{"/echo/2.0.0", "/echo/1.0.0"}, a)
		require.NoError(t, err)
		assert.Equal(t, "/echo/1.0.0", selected)
		assert.Equal(t, "/echo/1.0.0", <-done)
	})

	t.Run("候选耗尽", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()

		go Negotiate(func(string) bool { return false }, b)

		_, err := SelectOneOf([]string{"/echo/1.0.0", "/echo/2.0.0"}, a)
		assert.ErrorIs(t, err, ErrNegotiationFailed)
	})
}

func TestNegotiateRejectsLS(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := Negotiate(func(string) bool { return true }, b)
		done <- err
	}()

	require.NoError(t, HandshakeOutbound(a))
	require.NoError(t, WriteFrameString(a, LS))

	assert.ErrorIs(t, <-done, ErrListNotSupported)
}

func TestBadHeader(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() {
		ReadFrame(b)
		WriteFrameString(b, "/wrong/0.0.1")
	}()

	err := HandshakeOutbound(a)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestOrderBySemverDesc(t *testing.T) {
	in := []string{
		"/sec/1.0.0",
		"/sec/1.2.0",
		"/sec/1.10.3",
		"/sec/0.9.1",
	}

	out := OrderBySemverDesc(in)
	assert.Equal(t, []string{
		"/sec/1.10.3",
		"/sec/1.2.0",
		"/sec/1.0.0",
		"/sec/0.9.1",
	}, out)

	// 不同名称的协议保持注册顺序
	mixed := OrderBySemverDesc([]string{"/b/1.0.0", "/a/2.0.0"})
	assert.Equal(t, []string{"/b/1.0.0", "/a/2.0.0"}, mixed)
}

func TestSplitProtocol(t *testing.T) {
	name, version := SplitProtocol("/netweave/id/1.0.0")
	assert.Equal(t, "/netweave/id", name)
	assert.Equal(t, "1.0.0", version)
}
