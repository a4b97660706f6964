package crypto

import (
	sha256 "github.com/minio/sha256-simd"

	"github.com/netweave/go-netweave/pkg/types"
)

// ============================================================================
//                              PeerID 派生
// ============================================================================

// PeerIDFromPublicKey 从公钥派生 PeerID
//
// 派生算法：Base58(SHA256(序列化公钥))
func PeerIDFromPublicKey(pub PublicKey) (types.PeerID, error) {
	if pub == nil {
		return types.EmptyPeerID, ErrNilPublicKey
	}

	data, err := MarshalPublicKey(pub)
	if err != nil {
		return types.EmptyPeerID, err
	}

	hash := sha256.Sum256(data)

	return types.PeerID(types.Base58Encode(hash[:])), nil
}

// PeerIDFromPrivateKey 从私钥派生 PeerID
func PeerIDFromPrivateKey(priv PrivateKey) (types.PeerID, error) {
	if priv == nil {
		return types.EmptyPeerID, ErrNilPrivateKey
	}
	return PeerIDFromPublicKey(priv.GetPublic())
}

// PeerIDFromPublicKeyBytes 从序列化公钥派生 PeerID
func PeerIDFromPublicKeyBytes(b []byte) (types.PeerID, error) {
	pub, err := UnmarshalPublicKey(b)
	if err != nil {
		return types.EmptyPeerID, err
	}
	return PeerIDFromPublicKey(pub)
}

// VerifyPeerID 验证公钥是否对应给定的 PeerID
func VerifyPeerID(pub PublicKey, id types.PeerID) (bool, error) {
	derivedID, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return false, err
	}
	return derivedID == id, nil
}
