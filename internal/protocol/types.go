package protocol

// Frame kinds exchanged on the play socket.
const (
	KindMove    = "move"
	KindAck     = "ack"
	KindEndData = "endData"
	KindReload  = "reload"
	KindResync  = "resync"
	KindCrowd   = "crowd"
)

// MoveData is the inbound payload of a move frame. Every field is optional;
// absent or mistyped fields stay at their zero value with the Has* flag false.
type MoveData struct {
	UCI    string // canonical move field
	U      string // fallback move field
	SAN    string
	FEN    string
	Ply    uint32
	HasPly bool

	Status    string
	HasStatus bool
	Winner    string
	HasWinner bool
}

// Move returns the move carried by the frame, preferring the canonical field.
func (d MoveData) Move() string {
	if d.UCI != "" {
		return d.UCI
	}
	return d.U
}

// Terminal reports whether the frame signals the end of the game.
func (d MoveData) Terminal() bool { return d.HasStatus || d.HasWinner }

// EndData is the optional payload of an endData frame.
type EndData struct {
	Status string
	Winner string
}

// MovePayload is the body of an outbound move frame.
type MovePayload struct {
	U string `json:"u"` // move in coordinate notation
	A uint32 `json:"a"` // ack counter
	B int    `json:"b"` // 1 when high-commitment
	L uint32 `json:"l"` // lag in ms
}

// OutboundMove is the only frame the client sends.
type OutboundMove struct {
	T string      `json:"t"`
	D MovePayload `json:"d"`
}

// NewMoveFrame builds the outbound move frame.
func NewMoveFrame(move string, ack uint32, highCommitment bool, lagMS uint32) OutboundMove {
	b := 0
	if highCommitment {
		b = 1
	}
	return OutboundMove{
		T: KindMove,
		D: MovePayload{U: move, A: ack, B: b, L: lagMS},
	}
}
