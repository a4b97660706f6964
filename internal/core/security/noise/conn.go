package noise

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"
	"github.com/multiformats/go-varint"

	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/types"
)

// maxCipherFrame 单个密文帧上限（2 字节长度前缀）
const maxCipherFrame = 65535

// noise 加密有 16 字节认证标签开销，明文分片须留出余量
const maxPlainChunk = maxCipherFrame - 16

// ============================================================================
// secureStream 实现
// ============================================================================

// secureStream Noise 安全流
//
// 密文按 2 字节大端长度前缀分帧。
type secureStream struct {
	inner io.ReadWriteCloser

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	remotePub  crypto.PublicKey
	remotePeer types.PeerID

	readMu  sync.Mutex
	writeMu sync.Mutex

	// readBuf 上一帧未读完的明文
	readBuf []byte
}

// Read 读取并解密
func (s *secureStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.readBuf) > 0 {
		n := copy(p, s.readBuf)
		s.readBuf = s.readBuf[n:]
		return n, nil
	}

	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(s.inner, lenBuf); err != nil {
		return 0, err
	}
	msgLen := binary.BigEndian.Uint16(lenBuf)
	if msgLen == 0 {
		return 0, io.EOF
	}

	encMsg := make([]byte, msgLen)
	if _, err := io.ReadFull(s.inner, encMsg); err != nil {
		return 0, err
	}

	plaintext, err := s.recvCS.Decrypt(nil, nil, encMsg)
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}

	n := copy(p, plaintext)
	if n < len(plaintext) {
		s.readBuf = append(s.readBuf[:0], plaintext[n:]...)
	}
	return n, nil
}

// Write 加密并写入
func (s *secureStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlainChunk {
			chunk = p[:maxPlainChunk]
		}

		ciphertext, err := s.sendCS.Encrypt(nil, nil, chunk)
		if err != nil {
			return total, fmt.Errorf("encrypt: %w", err)
		}

		buf := make([]byte, 2+len(ciphertext))
		binary.BigEndian.PutUint16(buf, uint16(len(ciphertext)))
		copy(buf[2:], ciphertext)

		if _, err := s.inner.Write(buf); err != nil {
			return total, err
		}

		total += len(chunk)
		p = p[len(chunk):]
	}

	return total, nil
}

// Close 关闭内层流
func (s *secureStream) Close() error {
	return s.inner.Close()
}

// RemotePeer 返回对端节点标识
func (s *secureStream) RemotePeer() types.PeerID {
	return s.remotePeer
}

// ============================================================================
// 握手帧与 payload 编码
// ============================================================================

// writeHandshakeFrame 写入握手帧（2 字节大端长度 + 数据）
func writeHandshakeFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

// readHandshakeFrame 读取握手帧
func readHandshakeFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(lenBuf)
	if length == 0 {
		return nil, nil
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// marshalPayload 编码握手 payload（两个 varint 长度前缀字段）
func marshalPayload(identityKey, identitySig []byte) []byte {
	var buf []byte
	buf = append(buf, varint.ToUvarint(uint64(len(identityKey)))...)
	buf = append(buf, identityKey...)
	buf = append(buf, varint.ToUvarint(uint64(len(identitySig)))...)
	buf = append(buf, identitySig...)
	return buf
}

// unmarshalPayload 解码握手 payload
func unmarshalPayload(b []byte) (identityKey, identitySig []byte, err error) {
	identityKey, rest, err := readLenPrefixed(b)
	if err != nil {
		return nil, nil, err
	}
	identitySig, _, err = readLenPrefixed(rest)
	if err != nil {
		return nil, nil, err
	}
	return identityKey, identitySig, nil
}

// readLenPrefixed 读取一个 varint 长度前缀字段
func readLenPrefixed(b []byte) (field, rest []byte, err error) {
	length, n, err := varint.FromUvarint(b)
	if err != nil {
		return nil, nil, fmt.Errorf("read field length: %w", err)
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return nil, nil, fmt.Errorf("truncated field: want %d, have %d", length, len(b))
	}
	return b[:length], b[length:], nil
}
