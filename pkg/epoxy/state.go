package epoxy

// Role distinguishes which side of a connection a [Connection] plays;
// it is the only asymmetry in the state machine.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is one of the nine states of the connection state machine.
// Exactly one transition happens per engine step, and
// only the engine goroutine mutates it; other goroutines observe it
// only through the state guards in
// [Connection.RequestResponse] / [Connection.FireEvent].
type State int32

const (
	StateCreated State = iota
	StateClientSendConfig
	StateClientExpectConfig
	StateServerExpectConfig
	StateServerSendConfig
	StateConnected
	StateSendProtocolError
	StateDisconnecting
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateClientSendConfig:
		return "ClientSendConfig"
	case StateClientExpectConfig:
		return "ClientExpectConfig"
	case StateServerExpectConfig:
		return "ServerExpectConfig"
	case StateServerSendConfig:
		return "ServerSendConfig"
	case StateConnected:
		return "Connected"
	case StateSendProtocolError:
		return "SendProtocolError"
	case StateDisconnecting:
		return "Disconnecting"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// ShutdownReason classifies why a connection reached [StateDisconnected],
// and is carried in the [ConnectionMetrics] record emitted at teardown.
// Populated at every transition into Disconnecting.
type ShutdownReason int

const (
	ShutdownUnknown ShutdownReason = iota
	ShutdownClientGraceful
	ShutdownServerGraceful
	ShutdownClientProtocolError
	ShutdownBondInternalError
	ShutdownServiceInternalError
	ShutdownNetworkError
)

func (r ShutdownReason) String() string {
	switch r {
	case ShutdownUnknown:
		return "Unknown"
	case ShutdownClientGraceful:
		return "ClientGraceful"
	case ShutdownServerGraceful:
		return "ServerGraceful"
	case ShutdownClientProtocolError:
		return "ClientProtocolError"
	case ShutdownBondInternalError:
		return "BondInternalError"
	case ShutdownServiceInternalError:
		return "ServiceInternalError"
	case ShutdownNetworkError:
		return "NetworkError"
	default:
		return "Unknown"
	}
}
