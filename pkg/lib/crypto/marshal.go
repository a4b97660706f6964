package crypto

import "fmt"

// 序列化格式：1 字节密钥类型 || 原始密钥字节。
// 该格式用于身份交换和 PeerID 派生，两端必须一致。

// MarshalPublicKey 序列化公钥
func MarshalPublicKey(pub PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, ErrNilPublicKey
	}
	raw, err := pub.Raw()
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, byte(pub.Type()))
	out = append(out, raw...)
	return out, nil
}

// UnmarshalPublicKey 反序列化公钥
func UnmarshalPublicKey(b []byte) (PublicKey, error) {
	if len(b) < 2 {
		return nil, ErrBadKeyLength
	}
	switch KeyType(b[0]) {
	case KeyTypeEd25519:
		return UnmarshalEd25519PublicKey(b[1:])
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKeyType, b[0])
	}
}
