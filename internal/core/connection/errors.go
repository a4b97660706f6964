package connection

import "errors"

var (
	// ErrDisposed 连接已释放
	ErrDisposed = errors.New("connection: disposed")
	// ErrNoSecurityChannel 没有可用的安全信道
	ErrNoSecurityChannel = errors.New("connection: no security channel mounted")
	// ErrSecurityFailed 所有安全信道协商均失败
	ErrSecurityFailed = errors.New("connection: security negotiation exhausted")
	// ErrNoMuxer 多路复用器尚未建立
	ErrNoMuxer = errors.New("connection: muxer not established")
	// ErrBadIdentity 对端身份校验失败
	ErrBadIdentity = errors.New("connection: remote identity does not match public key")
)
