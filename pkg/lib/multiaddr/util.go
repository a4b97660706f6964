package multiaddr

import (
	"fmt"
	"net"
	"strconv"
)

// validateIP4 校验 IPv4 值
func validateIP4(v string) error {
	ip := net.ParseIP(v)
	if ip == nil || ip.To4() == nil {
		return ErrInvalidValue
	}
	return nil
}

// validateIP6 校验 IPv6 值
func validateIP6(v string) error {
	ip := net.ParseIP(v)
	if ip == nil || ip.To4() != nil {
		return ErrInvalidValue
	}
	return nil
}

// validatePort 校验端口值（0 表示由内核分配）
func validatePort(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > 65535 {
		return ErrInvalidValue
	}
	return nil
}

// validatePeerID 校验节点标识值
func validatePeerID(v string) error {
	if v == "" {
		return ErrInvalidValue
	}
	return nil
}

// IsWildcard 判断地址是否以通配 IP 开头（0.0.0.0 或 ::）
func (m *Multiaddr) IsWildcard() bool {
	if len(m.components) == 0 {
		return false
	}
	c := m.components[0]
	if c.Protocol != ProtoIP4 && c.Protocol != ProtoIP6 {
		return false
	}
	ip := net.ParseIP(c.Value)
	return ip != nil && ip.IsUnspecified()
}

// ExpandWildcard 将通配监听地址展开为主机的单播地址
//
// 非通配地址原样返回单元素切片。展开失败时返回原地址。
func (m *Multiaddr) ExpandWildcard() []*Multiaddr {
	if !m.IsWildcard() {
		return []*Multiaddr{m}
	}

	wantV4 := m.components[0].Protocol == ProtoIP4

	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return []*Multiaddr{m}
	}

	var out []*Multiaddr
	for _, ia := range ifaceAddrs {
		ipnet, ok := ia.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP
		if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		isV4 := ip.To4() != nil
		if isV4 != wantV4 {
			continue
		}

		comps := m.Components()
		comps[0].Value = ip.String()
		out = append(out, &Multiaddr{components: comps})
	}

	if len(out) == 0 {
		return []*Multiaddr{m}
	}
	return out
}

// FromNetAddr 将 net.Addr（TCP/UDP）转换为 Multiaddr
func FromNetAddr(a net.Addr) (*Multiaddr, error) {
	var ip net.IP
	var port int
	var trans string

	switch na := a.(type) {
	case *net.TCPAddr:
		ip, port, trans = na.IP, na.Port, ProtoTCP
	case *net.UDPAddr:
		ip, port, trans = na.IP, na.Port, ProtoUDP
	default:
		return nil, fmt.Errorf("%w: unsupported net.Addr %T", ErrInvalidFormat, a)
	}

	ipProto := ProtoIP4
	if ip.To4() == nil {
		ipProto = ProtoIP6
	}

	return FromComponents(
		Component{Protocol: ipProto, Value: ip.String()},
		Component{Protocol: trans, Value: strconv.Itoa(port)},
	), nil
}

// ToNetAddrString 返回 host:port 形式的拨号字符串
//
// 地址必须以 ip4/ip6/dns4/dns6 开头并紧跟 tcp 或 udp 端口。
func (m *Multiaddr) ToNetAddrString() (network, hostport string, err error) {
	if len(m.components) < 2 {
		return "", "", fmt.Errorf("%w: too short for dialing", ErrInvalidFormat)
	}

	host := m.components[0]
	trans := m.components[1]

	switch host.Protocol {
	case ProtoIP4, ProtoIP6, ProtoDNS4, ProtoDNS6:
	default:
		return "", "", fmt.Errorf("%w: %s is not a host protocol", ErrInvalidFormat, host.Protocol)
	}

	switch trans.Protocol {
	case ProtoTCP, ProtoUDP:
	default:
		return "", "", fmt.Errorf("%w: %s is not a transport protocol", ErrInvalidFormat, trans.Protocol)
	}

	return trans.Protocol, net.JoinHostPort(host.Value, trans.Value), nil
}
