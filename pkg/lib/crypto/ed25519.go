package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// ============================================================================
//                              Ed25519 实现
// ============================================================================

// Ed25519PrivateKey Ed25519 私钥
type Ed25519PrivateKey struct {
	priv ed25519.PrivateKey
}

// Ed25519PublicKey Ed25519 公钥
type Ed25519PublicKey struct {
	pub ed25519.PublicKey
}

// 确保实现接口
var (
	_ PrivateKey = (*Ed25519PrivateKey)(nil)
	_ PublicKey  = (*Ed25519PublicKey)(nil)
)

// GenerateEd25519Key 生成新的 Ed25519 密钥对
func GenerateEd25519Key() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519PrivateKey{priv: priv}, &Ed25519PublicKey{pub: pub}, nil
}

// UnmarshalEd25519PrivateKey 从原始字节恢复私钥
//
// 接受 64 字节标准格式或 32 字节种子格式。
func UnmarshalEd25519PrivateKey(b []byte) (PrivateKey, error) {
	switch len(b) {
	case ed25519.PrivateKeySize:
		priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
		copy(priv, b)
		return &Ed25519PrivateKey{priv: priv}, nil
	case ed25519.SeedSize:
		return &Ed25519PrivateKey{priv: ed25519.NewKeyFromSeed(b)}, nil
	default:
		return nil, ErrBadKeyLength
	}
}

// UnmarshalEd25519PublicKey 从原始字节恢复公钥
func UnmarshalEd25519PublicKey(b []byte) (PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrBadKeyLength
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, b)
	return &Ed25519PublicKey{pub: pub}, nil
}

// Raw 返回原始私钥字节（64 字节）
func (k *Ed25519PrivateKey) Raw() ([]byte, error) {
	out := make([]byte, len(k.priv))
	copy(out, k.priv)
	return out, nil
}

// Type 返回密钥类型
func (k *Ed25519PrivateKey) Type() KeyType {
	return KeyTypeEd25519
}

// Equals 比较私钥
func (k *Ed25519PrivateKey) Equals(other Key) bool {
	o, ok := other.(*Ed25519PrivateKey)
	if !ok {
		return false
	}
	return bytes.Equal(k.priv, o.priv)
}

// Sign 对数据签名
func (k *Ed25519PrivateKey) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}

// GetPublic 返回对应公钥
func (k *Ed25519PrivateKey) GetPublic() PublicKey {
	pub := k.priv.Public().(ed25519.PublicKey)
	return &Ed25519PublicKey{pub: pub}
}

// Raw 返回原始公钥字节（32 字节）
func (k *Ed25519PublicKey) Raw() ([]byte, error) {
	out := make([]byte, len(k.pub))
	copy(out, k.pub)
	return out, nil
}

// Type 返回密钥类型
func (k *Ed25519PublicKey) Type() KeyType {
	return KeyTypeEd25519
}

// Equals 比较公钥
func (k *Ed25519PublicKey) Equals(other Key) bool {
	o, ok := other.(*Ed25519PublicKey)
	if !ok {
		return false
	}
	return bytes.Equal(k.pub, o.pub)
}

// Verify 验证签名
func (k *Ed25519PublicKey) Verify(data, sig []byte) (bool, error) {
	return ed25519.Verify(k.pub, data, sig), nil
}
