package mplex

import "errors"

var (
	// ErrInvalidData 线路数据非法（未知帧类型、超长 payload）
	ErrInvalidData = errors.New("mplex: invalid data on channel")
	// ErrMuxerClosed 多路复用器已关闭
	ErrMuxerClosed = errors.New("mplex: muxer closed")
	// ErrStreamClosed 子流本地已关闭
	ErrStreamClosed = errors.New("mplex: stream closed")
	// ErrStreamReset 子流已被重置
	ErrStreamReset = errors.New("mplex: stream reset")
	// ErrRoleFixed 已分配子流后不允许切换角色
	ErrRoleFixed = errors.New("mplex: role cannot change after first stream")
)
