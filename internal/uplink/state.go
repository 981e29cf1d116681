package uplink

// State is a step of the uplink lifecycle.
type State int

const (
	Configured State = iota
	CredentialReady
	TransportConnected
	Ready
	Disconnected
	Invalid
)

func (s State) String() string {
	switch s {
	case Configured:
		return "configured"
	case CredentialReady:
		return "credential_ready"
	case TransportConnected:
		return "transport_connected"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
