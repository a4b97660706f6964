// Package mplex 实现 mplex 风格的流多路复用器
//
// 在一条双工字节通道上复用多条双向子流。
//
// 线路格式：每帧为 header-varint || length-varint || payload，
// 其中 header = (stream_id << 3) | packet_type。帧之间无分隔符，
// 实现必须按 length 精确读取 payload 字节。
package mplex

import (
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// PacketType mplex 帧类型（封闭集合）
type PacketType uint8

const (
	// PacketNewStream 新建子流（payload 为 UTF-8 子流名）
	PacketNewStream PacketType = 0
	// PacketMessageReceiver 应答方数据帧
	PacketMessageReceiver PacketType = 1
	// PacketMessageInitiator 发起方数据帧
	PacketMessageInitiator PacketType = 2
	// PacketCloseReceiver 应答方关闭帧
	PacketCloseReceiver PacketType = 3
	// PacketCloseInitiator 发起方关闭帧
	PacketCloseInitiator PacketType = 4
	// PacketResetReceiver 应答方重置帧
	PacketResetReceiver PacketType = 5
	// PacketResetInitiator 发起方重置帧
	PacketResetInitiator PacketType = 6
)

// maxPacketType 合法帧类型上界
const maxPacketType = PacketResetInitiator

// String 返回帧类型名称
func (t PacketType) String() string {
	switch t {
	case PacketNewStream:
		return "NewStream"
	case PacketMessageReceiver:
		return "MessageReceiver"
	case PacketMessageInitiator:
		return "MessageInitiator"
	case PacketCloseReceiver:
		return "CloseReceiver"
	case PacketCloseInitiator:
		return "CloseInitiator"
	case PacketResetReceiver:
		return "ResetReceiver"
	case PacketResetInitiator:
		return "ResetInitiator"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// maxPayloadLen 单帧 payload 上限
const maxPayloadLen = 1 << 20

// Frame mplex 帧
type Frame struct {
	StreamID uint64
	Type     PacketType
	Payload  []byte
}

// Marshal 编码帧为线路字节
func (f *Frame) Marshal() []byte {
	header := varint.ToUvarint(f.StreamID<<3 | uint64(f.Type))
	length := varint.ToUvarint(uint64(len(f.Payload)))

	buf := make([]byte, 0, len(header)+len(length)+len(f.Payload))
	buf = append(buf, header...)
	buf = append(buf, length...)
	buf = append(buf, f.Payload...)
	return buf
}

// ReadFrame 从通道读取一帧
//
// 帧边界按字节精确：恰好读取 length 个 payload 字节，绝不多读。
func ReadFrame(r io.Reader) (*Frame, error) {
	header, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}

	length, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}
	if length > maxPayloadLen {
		return nil, fmt.Errorf("%w: payload length %d", ErrInvalidData, length)
	}

	f := &Frame{
		StreamID: header >> 3,
		Type:     PacketType(header & 0x7),
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// byteReader 把 io.Reader 适配为 io.ByteReader
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}
