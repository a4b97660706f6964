// Package multistream 实现流上的协议协商
//
// 协商消息采用短帧编码：uvarint(len+1) || payload || 0x0a。
// 协议名形如 /<name>/<major>.<minor>.<patch>；协商令牌包括
// 头部 /multistream/1.0.0、"na"（不可用）与 "ls"（未实现）。
package multistream

import (
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// maxFrameLen 协商帧长度上限
//
// 协商只交换短协议名，超长帧按非法数据处理。
const maxFrameLen = 1024

// newline 帧终止符
const newline = 0x0a

// WriteFrame 写入一个协商帧
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload)+1 > maxFrameLen {
		return fmt.Errorf("%w: payload too long (%d)", ErrInvalidFrame, len(payload))
	}

	header := varint.ToUvarint(uint64(len(payload) + 1))

	buf := make([]byte, 0, len(header)+len(payload)+1)
	buf = append(buf, header...)
	buf = append(buf, payload...)
	buf = append(buf, newline)

	_, err := w.Write(buf)
	return err
}

// WriteFrameString 写入字符串协商帧
func WriteFrameString(w io.Writer, s string) error {
	return WriteFrame(w, []byte(s))
}

// ReadFrame 读取一个协商帧
//
// 缺失终止换行符时返回 ErrInvalidFrame。
func ReadFrame(r io.Reader) ([]byte, error) {
	length, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}
	if length == 0 || length > maxFrameLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidFrame, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	if buf[length-1] != newline {
		return nil, fmt.Errorf("%w: missing terminating newline", ErrInvalidFrame)
	}

	return buf[:length-1], nil
}

// ReadFrameString 读取字符串协商帧
func ReadFrameString(r io.Reader) (string, error) {
	b, err := ReadFrame(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// byteReader 把 io.Reader 适配为 io.ByteReader（varint 读取用）
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
