package multiaddr

import "errors"

var (
	// ErrInvalidFormat 地址文本格式非法
	ErrInvalidFormat = errors.New("multiaddr: invalid format")
	// ErrUnknownProtocol 未注册的协议名
	ErrUnknownProtocol = errors.New("multiaddr: unknown protocol")
	// ErrProtocolNotFound 地址中不含指定协议
	ErrProtocolNotFound = errors.New("multiaddr: protocol not found in address")
	// ErrInvalidValue 协议值非法
	ErrInvalidValue = errors.New("multiaddr: invalid protocol value")
)
