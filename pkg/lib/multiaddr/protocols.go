package multiaddr

// Protocol 协议描述
//
// 每个协议由名称和是否携带值组成。
// 值的合法性由 validate 校验（可为 nil）。
type Protocol struct {
	// Name 协议名称（如 "ip4"、"tcp"）
	Name string

	// HasValue 协议是否携带值
	HasValue bool

	// validate 值校验函数（可为 nil）
	validate func(string) error
}

// 支持的协议名称常量
const (
	ProtoIP4  = "ip4"
	ProtoIP6  = "ip6"
	ProtoTCP  = "tcp"
	ProtoUDP  = "udp"
	ProtoDNS4 = "dns4"
	ProtoDNS6 = "dns6"
	ProtoP2P  = "p2p"
	ProtoIPFS = "ipfs"
)

// protocols 协议注册表
var protocols = map[string]Protocol{
	ProtoIP4:  {Name: ProtoIP4, HasValue: true, validate: validateIP4},
	ProtoIP6:  {Name: ProtoIP6, HasValue: true, validate: validateIP6},
	ProtoTCP:  {Name: ProtoTCP, HasValue: true, validate: validatePort},
	ProtoUDP:  {Name: ProtoUDP, HasValue: true, validate: validatePort},
	ProtoDNS4: {Name: ProtoDNS4, HasValue: true},
	ProtoDNS6: {Name: ProtoDNS6, HasValue: true},
	ProtoP2P:  {Name: ProtoP2P, HasValue: true, validate: validatePeerID},
	ProtoIPFS: {Name: ProtoIPFS, HasValue: true, validate: validatePeerID},
}

// ProtocolWithName 根据名称查找协议
func ProtocolWithName(name string) (Protocol, bool) {
	p, ok := protocols[name]
	return p, ok
}

// IsPeerIDProtocol 检查协议名是否为节点标识协议
//
// 节点标识协议有两个别名：ipfs（历史名称）和 p2p。
func IsPeerIDProtocol(name string) bool {
	return name == ProtoP2P || name == ProtoIPFS
}
