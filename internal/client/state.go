package client

// ConnState 客户端唯一的连接状态
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	LocalFallback
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case LocalFallback:
		return "local"
	default:
		return "unknown"
	}
}
