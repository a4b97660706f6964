// Package identify 实现身份协议
//
// 在新子流上交换双方的协议版本、代理版本、公钥、监听地址
// 与观测地址，并校验远端节点标识等于其公钥哈希。
package identify

import (
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	"github.com/netweave/go-netweave/pkg/lib/multiaddr"
)

// maxRecordLen 身份记录长度上限
const maxRecordLen = 1 << 16

// ErrRecordTooLarge 身份记录超长
var ErrRecordTooLarge = errors.New("identify: record too large")

// Record 身份记录
//
// 线路形式：varint(总长) || 字段序列，字段依次为
// protocolVersion、agentVersion、publicKey、监听地址数组、
// observedAddr。监听地址数组以 varint 元素个数开头，其余字段
// 及每个数组元素带 varint 长度前缀。
type Record struct {
	ProtocolVersion string
	AgentVersion    string
	PublicKey       []byte
	ListenAddrs     []*multiaddr.Multiaddr
	ObservedAddr    *multiaddr.Multiaddr
}

// Marshal 编码身份记录
func (r *Record) Marshal() []byte {
	var body []byte
	body = appendField(body, []byte(r.ProtocolVersion))
	body = appendField(body, []byte(r.AgentVersion))
	body = appendField(body, r.PublicKey)

	body = append(body, varint.ToUvarint(uint64(len(r.ListenAddrs)))...)
	for _, a := range r.ListenAddrs {
		body = appendField(body, []byte(a.String()))
	}

	var observed []byte
	if r.ObservedAddr != nil {
		observed = []byte(r.ObservedAddr.String())
	}
	body = appendField(body, observed)

	out := varint.ToUvarint(uint64(len(body)))
	return append(out, body...)
}

// WriteRecord 写出身份记录
func WriteRecord(w io.Writer, r *Record) error {
	_, err := w.Write(r.Marshal())
	return err
}

// ReadRecord 读取身份记录
func ReadRecord(rd io.Reader) (*Record, error) {
	total, err := varint.ReadUvarint(byteReader{rd})
	if err != nil {
		return nil, err
	}
	if total > maxRecordLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, total)
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(rd, body); err != nil {
		return nil, err
	}

	r := &Record{}

	field, body, err := readField(body)
	if err != nil {
		return nil, err
	}
	r.ProtocolVersion = string(field)

	field, body, err = readField(body)
	if err != nil {
		return nil, err
	}
	r.AgentVersion = string(field)

	r.PublicKey, body, err = readField(body)
	if err != nil {
		return nil, err
	}

	count, n, err := varint.FromUvarint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	for i := uint64(0); i < count; i++ {
		field, body, err = readField(body)
		if err != nil {
			return nil, err
		}
		addr, err := multiaddr.NewMultiaddr(string(field))
		if err != nil {
			// 无法解析的地址跳过而非整体失败
			continue
		}
		r.ListenAddrs = append(r.ListenAddrs, addr)
	}

	field, _, err = readField(body)
	if err != nil {
		return nil, err
	}
	if len(field) > 0 {
		if addr, err := multiaddr.NewMultiaddr(string(field)); err == nil {
			r.ObservedAddr = addr
		}
	}

	return r, nil
}

// appendField 追加 varint 长度前缀字段
func appendField(buf, field []byte) []byte {
	buf = append(buf, varint.ToUvarint(uint64(len(field)))...)
	return append(buf, field...)
}

// readField 读取 varint 长度前缀字段
func readField(b []byte) (field, rest []byte, err error) {
	length, n, err := varint.FromUvarint(b)
	if err != nil {
		return nil, nil, fmt.Errorf("identify: read field length: %w", err)
	}
	b = b[n:]
	if uint64(len(b)) < length {
		return nil, nil, fmt.Errorf("identify: truncated field: want %d, have %d", length, len(b))
	}
	return b[:length], b[length:], nil
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
