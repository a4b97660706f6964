package transport

import "errors"

var (
	// ErrUnknownTransport 未注册的传输协议名
	ErrUnknownTransport = errors.New("transport: unknown transport protocol")
	// ErrNoTransport 地址不含任何已注册的传输协议
	ErrNoTransport = errors.New("transport: no transport for address")
	// ErrListenUnsupported 传输不支持监听
	ErrListenUnsupported = errors.New("transport: listen not supported")
)
