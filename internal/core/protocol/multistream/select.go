package multistream

import (
	"fmt"
	"io"

	"github.com/netweave/go-netweave/pkg/lib/log"
)

var logger = log.Logger("core/multistream")

// 协商令牌
const (
	// HeaderProtocol 多流协商头部
	HeaderProtocol = "/multistream/1.0.0"
	// NA 协议不可用回复
	NA = "na"
	// LS 协议列举请求（未实现）
	LS = "ls"
)

// HandshakeOutbound 发起方头部握手
//
// 写入头部帧并校验对端回显。
func HandshakeOutbound(rw io.ReadWriter) error {
	if err := WriteFrameString(rw, HeaderProtocol); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	echo, err := ReadFrameString(rw)
	if err != nil {
		return fmt.Errorf("read header echo: %w", err)
	}
	if echo != HeaderProtocol {
		return fmt.Errorf("%w: got %q", ErrBadHeader, echo)
	}
	return nil
}

// HandshakeInbound 应答方头部握手
//
// 读取对端头部帧并回显。
func HandshakeInbound(rw io.ReadWriter) error {
	header, err := ReadFrameString(rw)
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header != HeaderProtocol {
		return fmt.Errorf("%w: got %q", ErrBadHeader, header)
	}
	if err := WriteFrameString(rw, HeaderProtocol); err != nil {
		return fmt.Errorf("write header echo: %w", err)
	}
	return nil
}

// SelectFrom 在已完成头部握手的流上依序提议候选协议
//
// 对端回显等于候选时协商成功；其余回复（含 "na"）尝试下一个候选。
// 候选耗尽返回 ErrNegotiationFailed。
func SelectFrom(rw io.ReadWriter, candidates []string) (string, error) {
	for _, candidate := range candidates {
		if err := WriteFrameString(rw, candidate); err != nil {
			return "", fmt.Errorf("offer %s: %w", candidate, err)
		}
		reply, err := ReadFrameString(rw)
		if err != nil {
			return "", fmt.Errorf("read reply for %s: %w", candidate, err)
		}
		if reply == candidate {
			return candidate, nil
		}
		logger.Debug("候选协议被拒绝", "candidate", candidate, "reply", reply)
	}
	return "", fmt.Errorf("%w: tried %d candidates", ErrNegotiationFailed, len(candidates))
}

// SelectOneOf 发起方完整协商（头部握手 + 候选提议）
func SelectOneOf(candidates []string, rw io.ReadWriter) (string, error) {
	if err := HandshakeOutbound(rw); err != nil {
		return "", err
	}
	return SelectFrom(rw, candidates)
}

// Negotiate 应答方协商循环
//
// 头部握手后循环读取候选：注册表命中时回显并返回；
// 未命中时写 "na" 且不关闭流（对端可再次尝试）；
// 收到 "ls" 时失败（未实现）。
func Negotiate(lookup func(string) bool, rw io.ReadWriter) (string, error) {
	if err := HandshakeInbound(rw); err != nil {
		return "", err
	}
	return NegotiateNext(lookup, rw)
}

// NegotiateNext 应答方在已完成头部握手的流上继续协商
func NegotiateNext(lookup func(string) bool, rw io.ReadWriter) (string, error) {
	for {
		candidate, err := ReadFrameString(rw)
		if err != nil {
			return "", fmt.Errorf("read candidate: %w", err)
		}

		if candidate == LS {
			return "", ErrListNotSupported
		}

		if lookup(candidate) {
			if err := WriteFrameString(rw, candidate); err != nil {
				return "", fmt.Errorf("echo %s: %w", candidate, err)
			}
			return candidate, nil
		}

		logger.Debug("未注册的候选协议", "candidate", candidate)
		if err := WriteFrameString(rw, NA); err != nil {
			return "", fmt.Errorf("write na: %w", err)
		}
	}
}
