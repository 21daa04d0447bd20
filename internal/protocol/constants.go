package protocol

// Tag is the 32-bit little-endian value that opens every frame.
type Tag uint32

const (
	TagConnect        Tag = 0x6E4DC60B
	TagPutChar        Tag = 0xB0E0A971
	TagResizeTerminal Tag = 0x0BA8A5A9
	TagResponse       Tag = 0x5B7CF880
	TagEncrypted      Tag = 0xC7A469E3
)

func (t Tag) String() string {
	switch t {
	case TagConnect:
		return "Connect"
	case TagPutChar:
		return "PutChar"
	case TagResizeTerminal:
		return "ResizeTerminal"
	case TagResponse:
		return "Response"
	case TagEncrypted:
		return "Encrypted"
	default:
		return "unknown"
	}
}

// Role is the side of a relayed session a connection plays.
type Role uint32

const (
	RoleMaster Role = 0x8DAE13DF
	RoleSlave  Role = 0xBA186B22
)

// Valid reports whether r is Master or Slave.
func (r Role) Valid() bool {
	return r == RoleMaster || r == RoleSlave
}

// Opposite returns the peer role.
func (r Role) Opposite() Role {
	if r == RoleMaster {
		return RoleSlave
	}
	return RoleMaster
}

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "unknown"
	}
}

// ParseRole maps "master"/"slave" to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "master":
		return RoleMaster, true
	case "slave":
		return RoleSlave, true
	default:
		return 0, false
	}
}

// ResponseCode is the status carried by a Response frame.
type ResponseCode uint32

const (
	ResponseOK  ResponseCode = 0x4DC280B5
	ResponseErr ResponseCode = 0xBFDAC919
)

// Valid reports whether c is ResponseOK or ResponseErr.
func (c ResponseCode) Valid() bool {
	return c == ResponseOK || c == ResponseErr
}

func (c ResponseCode) String() string {
	switch c {
	case ResponseOK:
		return "ok"
	case ResponseErr:
		return "err"
	default:
		return "unknown"
	}
}

// Relay-originated event names carried in the "event" key of Response
// metadata.
const (
	EventPeerConnected    = "peer-connected"
	EventPeerDisconnected = "peer-disconnected"
)

// DefaultKeepAliveInterval is the keepalive period in seconds used when a
// Connect asks for keepalive without naming an interval.
const DefaultKeepAliveInterval = 5

// MaxUnwrapDepth bounds how many Encrypted envelopes Parse will open for one
// frame. An envelope inside an envelope is rejected.
const MaxUnwrapDepth = 1

// MaxCiphertextSize is the largest ciphertext an Encrypted frame can carry
// (u16 length field).
const MaxCiphertextSize = 1<<16 - 1

// Minimum frame sizes, tag included.
const (
	tagSize            = 4
	ConnectMinSize     = tagSize + 4 + 4 + 1 + 2
	PutCharMinSize     = tagSize + 4
	ResizeTerminalSize = tagSize + 4 + 4
	ResponseMinSize    = tagSize + 4
	EncryptedMinSize   = tagSize + 2
)

// MaxSealedText is the largest PutChar text that still fits an Encrypted
// envelope after padding or AEAD overhead. Senders split longer output.
const MaxSealedText = MaxCiphertextSize - PutCharMinSize - 64
