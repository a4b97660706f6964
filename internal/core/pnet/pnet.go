// Package pnet 实现私有网络保护器
//
// 以预共享密钥对原始流做对称加密变换，套在握手流水线的最外层。
// 双方先交换各自的 24 字节随机 nonce，此后两个方向分别用
// XChaCha20 流密码加解密。密钥不匹配的对端在随后的 multistream
// 头部握手处即失败。
package pnet

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20"

	"github.com/netweave/go-netweave/pkg/interfaces"
	"github.com/netweave/go-netweave/pkg/lib/log"
)

var logger = log.Logger("core/pnet")

// PSKLen 预共享密钥长度
const PSKLen = 32

// nonceLen XChaCha20 nonce 长度
const nonceLen = chacha20.NonceSizeX

// ErrBadPSKLen 预共享密钥长度非法
var ErrBadPSKLen = errors.New("pnet: psk must be 32 bytes")

// Protector 预共享密钥保护器
type Protector struct {
	psk [PSKLen]byte
}

// 确保实现接口
var _ interfaces.NetworkProtector = (*Protector)(nil)

// New 创建保护器
func New(psk []byte) (*Protector, error) {
	if len(psk) != PSKLen {
		return nil, ErrBadPSKLen
	}
	p := &Protector{}
	copy(p.psk[:], psk)
	return p, nil
}

// Protect 变换原始流
//
// 写出本端 nonce 与读取对端 nonce 并发进行（无缓冲的流上双方
// 先写后读会互相阻塞）；之后写方向用本端 nonce、读方向用对端
// nonce 各自维护一个流密码。
func (p *Protector) Protect(stream io.ReadWriteCloser) (io.ReadWriteCloser, error) {
	localNonce := make([]byte, nonceLen)
	if _, err := rand.Read(localNonce); err != nil {
		return nil, fmt.Errorf("pnet: generate nonce: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		_, err := stream.Write(localNonce)
		writeErr <- err
	}()

	remoteNonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(stream, remoteNonce); err != nil {
		return nil, fmt.Errorf("pnet: read nonce: %w", err)
	}
	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("pnet: write nonce: %w", err)
	}

	writeCipher, err := chacha20.NewUnauthenticatedCipher(p.psk[:], localNonce)
	if err != nil {
		return nil, fmt.Errorf("pnet: init write cipher: %w", err)
	}
	readCipher, err := chacha20.NewUnauthenticatedCipher(p.psk[:], remoteNonce)
	if err != nil {
		return nil, fmt.Errorf("pnet: init read cipher: %w", err)
	}

	logger.Debug("私网保护已启用")

	return &protectedStream{
		inner:       stream,
		readCipher:  readCipher,
		writeCipher: writeCipher,
	}, nil
}

// protectedStream 加密流
type protectedStream struct {
	inner io.ReadWriteCloser

	readMu     sync.Mutex
	readCipher *chacha20.Cipher

	writeMu     sync.Mutex
	writeCipher *chacha20.Cipher
}

// Read 读取并解密
func (s *protectedStream) Read(p []byte) (int, error) {
	n, err := s.inner.Read(p)
	if n > 0 {
		s.readMu.Lock()
		s.readCipher.XORKeyStream(p[:n], p[:n])
		s.readMu.Unlock()
	}
	return n, err
}

// Write 加密并写入
func (s *protectedStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	buf := make([]byte, len(p))
	s.writeCipher.XORKeyStream(buf, p)

	n, err := s.inner.Write(buf)
	return n, err
}

// Close 关闭内层流
func (s *protectedStream) Close() error {
	return s.inner.Close()
}
