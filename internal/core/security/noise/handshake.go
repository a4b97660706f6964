// Package noise 实现 Noise 协议安全信道
//
// Noise XX 握手流程：
//
//	-> e                                      (发起者发送临时公钥)
//	<- e, ee, s, es, payload                  (响应者发送临时公钥、静态公钥、payload)
//	-> s, se, payload                         (发起者发送静态公钥、payload)
//
// Noise 静态密钥与 Ed25519 身份密钥相互独立，payload 中的签名
// 把二者绑定：
//   - identity_key: 序列化的 Ed25519 身份公钥
//   - identity_sig: Sign("netweave-noise-static-key:" + noise_static_pubkey)
package noise

import (
	"context"
	"fmt"
	"io"

	"github.com/flynn/noise"

	"github.com/netweave/go-netweave/pkg/lib/crypto"
	"github.com/netweave/go-netweave/pkg/types"
)

// payloadSigPrefix 签名 payload 的前缀
const payloadSigPrefix = "netweave-noise-static-key:"

// performHandshake 执行 Noise XX 握手
//
// 参数：
//   - rw: 底层流
//   - privKey: 本地身份私钥（Ed25519）
//   - remotePeer: 期望的远程 PeerID（用于验证，可为空）
//   - isInitiator: true = 发起方，false = 应答方
func performHandshake(ctx context.Context, rw io.ReadWriteCloser, privKey crypto.PrivateKey, remotePeer types.PeerID, isInitiator bool) (*secureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. 生成一次性的 Noise 静态密钥对（与身份密钥独立）
	cs := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	staticKeypair, err := cs.GenerateKeypair(nil)
	if err != nil {
		return nil, fmt.Errorf("generate noise static key: %w", err)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cs,
		Pattern:       noise.HandshakeXX,
		Initiator:     isInitiator,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	// 2. 生成本地 payload（身份公钥 + 绑定签名）
	localPayload, err := generateHandshakePayload(privKey, staticKeypair.Public)
	if err != nil {
		return nil, fmt.Errorf("generate handshake payload: %w", err)
	}

	// 3. 执行握手
	var sendCS, recvCS *noise.CipherState
	var remotePayload []byte

	if isInitiator {
		sendCS, recvCS, remotePayload, err = clientHandshake(rw, hs, localPayload)
	} else {
		sendCS, recvCS, remotePayload, err = serverHandshake(rw, hs, localPayload)
	}
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}

	// 4. 验证远程 payload 并提取身份
	remoteStatic := hs.PeerStatic()
	if len(remoteStatic) != 32 {
		return nil, fmt.Errorf("invalid remote static key length: %d", len(remoteStatic))
	}

	remotePub, actualRemotePeer, err := handleRemotePayload(remotePayload, remoteStatic)
	if err != nil {
		return nil, fmt.Errorf("handle remote payload: %w", err)
	}

	// 验证 PeerID（如果指定了期望的 PeerID）
	if remotePeer != "" && actualRemotePeer != remotePeer {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerIDMismatch,
			remotePeer.ShortString(), actualRemotePeer.ShortString())
	}

	// 5. 创建安全流
	return &secureStream{
		inner:      rw,
		sendCS:     sendCS,
		recvCS:     recvCS,
		remotePub:  remotePub,
		remotePeer: actualRemotePeer,
	}, nil
}

// generateHandshakePayload 生成握手 payload
func generateHandshakePayload(privKey crypto.PrivateKey, noiseStatic []byte) ([]byte, error) {
	pubBytes, err := crypto.MarshalPublicKey(privKey.GetPublic())
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}

	toSign := append([]byte(payloadSigPrefix), noiseStatic...)
	sig, err := privKey.Sign(toSign)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}

	return marshalPayload(pubBytes, sig), nil
}

// handleRemotePayload 处理远程 payload：验证签名并提取身份
func handleRemotePayload(payloadBytes, remoteStatic []byte) (crypto.PublicKey, types.PeerID, error) {
	identityKey, identitySig, err := unmarshalPayload(payloadBytes)
	if err != nil {
		return nil, "", fmt.Errorf("unmarshal payload: %w", err)
	}

	remotePub, err := crypto.UnmarshalPublicKey(identityKey)
	if err != nil {
		return nil, "", fmt.Errorf("unmarshal remote public key: %w", err)
	}

	toVerify := append([]byte(payloadSigPrefix), remoteStatic...)
	valid, err := remotePub.Verify(toVerify, identitySig)
	if err != nil {
		return nil, "", fmt.Errorf("verify signature: %w", err)
	}
	if !valid {
		return nil, "", ErrBadSignature
	}

	peerID, err := crypto.PeerIDFromPublicKey(remotePub)
	if err != nil {
		return nil, "", fmt.Errorf("derive peer id: %w", err)
	}

	return remotePub, peerID, nil
}

// ============================================================================
// 握手流程
// ============================================================================

// clientHandshake 发起方握手
func clientHandshake(rw io.ReadWriter, hs *noise.HandshakeState, localPayload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	// 轮次 1: 发送 e (空 payload)
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 1: %w", err)
	}
	if err := writeHandshakeFrame(rw, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 1: %w", err)
	}

	// 轮次 2: 接收 e, ee, s, es, payload
	msg2, err := readHandshakeFrame(rw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 2: %w", err)
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 2: %w", err)
	}

	// 轮次 3: 发送 s, se, payload (最后一轮，返回 CipherStates)
	msg3, cs1, cs2, err := hs.WriteMessage(nil, localPayload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 3: %w", err)
	}
	if err := writeHandshakeFrame(rw, msg3); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 3: %w", err)
	}

	// 发起方：cs1 = 发送密钥，cs2 = 接收密钥
	return cs1, cs2, remotePayload, nil
}

// serverHandshake 应答方握手
func serverHandshake(rw io.ReadWriter, hs *noise.HandshakeState, localPayload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	// 轮次 1: 接收 e
	msg1, err := readHandshakeFrame(rw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 1: %w", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("read message 1: %w", err)
	}

	// 轮次 2: 发送 e, ee, s, es, payload
	msg2, _, _, err := hs.WriteMessage(nil, localPayload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 2: %w", err)
	}
	if err := writeHandshakeFrame(rw, msg2); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 2: %w", err)
	}

	// 轮次 3: 接收 s, se, payload (最后一轮，返回 CipherStates)
	msg3, err := readHandshakeFrame(rw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 3: %w", err)
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 3: %w", err)
	}

	// 应答方与发起方相反：cs2 = 发送密钥，cs1 = 接收密钥
	return cs2, cs1, remotePayload, nil
}
