// Package crypto 提供 NetWeave 身份密钥
//
// 节点身份由长期密钥对表示，PeerID 是序列化公钥的内容寻址哈希。
package crypto

import "errors"

// KeyType 密钥类型
type KeyType int

const (
	// KeyTypeEd25519 Ed25519 密钥
	KeyTypeEd25519 KeyType = iota
)

// 错误定义
var (
	// ErrNilPublicKey 公钥为空
	ErrNilPublicKey = errors.New("crypto: nil public key")
	// ErrNilPrivateKey 私钥为空
	ErrNilPrivateKey = errors.New("crypto: nil private key")
	// ErrBadKeyLength 密钥长度非法
	ErrBadKeyLength = errors.New("crypto: bad key length")
	// ErrUnknownKeyType 未知密钥类型
	ErrUnknownKeyType = errors.New("crypto: unknown key type")
)

// Key 密钥通用能力
type Key interface {
	// Raw 返回原始密钥字节
	Raw() ([]byte, error)

	// Type 返回密钥类型
	Type() KeyType

	// Equals 比较两个密钥是否相同
	Equals(Key) bool
}

// PublicKey 公钥
type PublicKey interface {
	Key

	// Verify 验证签名
	Verify(data, sig []byte) (bool, error)
}

// PrivateKey 私钥
type PrivateKey interface {
	Key

	// Sign 对数据签名
	Sign(data []byte) ([]byte, error)

	// GetPublic 返回对应公钥
	GetPublic() PublicKey
}
