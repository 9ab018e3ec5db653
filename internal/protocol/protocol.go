package protocol

// Message types sent by the agent. The casing matches what deployed agents
// already send: ACK is upper case, reset and shutdown are lower case.
const (
	TypeAck      = "ACK"
	TypeReset    = "reset"
	TypeShutdown = "shutdown"
)

func IsKnownType(t string) bool {
	switch t {
	case TypeAck, TypeReset, TypeShutdown:
		return true
	default:
		return false
	}
}
