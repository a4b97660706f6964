package multistream

import "errors"

var (
	// ErrInvalidFrame 协商帧非法
	ErrInvalidFrame = errors.New("multistream: invalid frame")
	// ErrBadHeader 头部握手失败
	ErrBadHeader = errors.New("multistream: bad protocol header")
	// ErrNegotiationFailed 所有候选协议均被拒绝
	ErrNegotiationFailed = errors.New("multistream: negotiation failed")
	// ErrListNotSupported 不支持 "ls" 列举
	ErrListNotSupported = errors.New("multistream: ls not supported")
)
