package protocol

import "github.com/dkeye/Relay/internal/domain"

// Kind is the envelope discriminator.
type Kind string

// Client to server.
const (
	KindJoin          Kind = "join"
	KindBroadcast     Kind = "broadcast"
	KindPrivate       Kind = "private"
	KindRoomMessage   Kind = "room_message"
	KindChat          Kind = "chat" // legacy alias of room_message
	KindCreateRoom    Kind = "create_room"
	KindJoinRoom      Kind = "join_room"
	KindLeaveRoom     Kind = "leave_room"
	KindListUsers     Kind = "list_users"
	KindListRooms     Kind = "list_rooms"
	KindFileInit      Kind = "file_init"
	KindFileChunk     Kind = "file_chunk"
	KindFileEnd       Kind = "file_end"
	KindFile          Kind = "file" // single-shot legacy transfer
	KindMediaRegister Kind = "media_register"

	KindCallRequest      Kind = "call_request"
	KindCallResponse     Kind = "call_response"
	KindCallAccepted     Kind = "call_accepted"
	KindCallRejected     Kind = "call_rejected"
	KindEndCall          Kind = "end_call"
	KindGroupCallRequest Kind = "group_call_request"
	KindGroupCallJoin    Kind = "group_call_join"
	KindCallData         Kind = "call_data"
	KindPing             Kind = "ping"
)

// Server to client.
const (
	KindWelcome         Kind = "welcome"
	KindSystem          Kind = "system"
	KindError           Kind = "error"
	KindUserList        Kind = "user_list"
	KindRoomList        Kind = "room_list"
	KindRoomCreated     Kind = "room_created"
	KindRoomJoined      Kind = "room_joined"
	KindRoomLeft        Kind = "room_left"
	KindCallEnded       Kind = "call_ended"
	KindGroupCallJoined Kind = "group_call_joined"
	KindGroupCallLeft   Kind = "group_call_left"
	KindPong            Kind = "pong"
)

// Streaming reports whether k carries one piece of an ordered stream, where
// losing a single envelope corrupts what the receiver reassembles.
func (k Kind) Streaming() bool {
	switch k {
	case KindFileInit, KindFileChunk, KindFileEnd, KindCallData:
		return true
	}
	return false
}

// RoomInfo is the wire view of a room.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Envelope is the single control-plane record. Only the fields relevant to
// Type are meaningful; everything else is left zero and omitted on the wire.
type Envelope struct {
	Type Kind   `json:"type"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	Peer string `json:"peer,omitempty"`
	Room string `json:"room,omitempty"`
	Msg  string `json:"msg,omitempty"`

	Filename string `json:"filename,omitempty"`
	Filetype string `json:"filetype,omitempty"`
	Size     int64  `json:"size,omitempty" validate:"gte=0"`
	Seq      int    `json:"seq,omitempty" validate:"gte=0"`
	Data     string `json:"data,omitempty"`
	DataType string `json:"data_type,omitempty"`

	Mode     domain.CallMode `json:"mode,omitempty" validate:"omitempty,oneof=audio video both"`
	Accepted *bool           `json:"accepted,omitempty"`
	IsGroup  bool            `json:"is_group,omitempty"`
	Reason   string          `json:"reason,omitempty"`

	Port      int        `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Name      string     `json:"name,omitempty"`
	MediaPort int        `json:"media_port,omitempty"`
	Users     []string   `json:"users,omitempty"`
	Rooms     []RoomInfo `json:"rooms,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`

	// Legacy spellings, folded into the fields above by Decode.
	Recipient string          `json:"recipient,omitempty"`
	Message   string          `json:"message,omitempty"`
	RoomName  string          `json:"room_name,omitempty"`
	CallType  domain.CallMode `json:"call_type,omitempty"`
	Caller    string          `json:"caller,omitempty"`
	FileData  string          `json:"filedata,omitempty"`
}

// Target returns the private recipient of an addressed envelope.
func (e *Envelope) Target() string {
	if e.Peer != "" {
		return e.Peer
	}
	return e.To
}

// IsAccepted reports the decision carried by call_response/call_accepted.
func (e *Envelope) IsAccepted() bool {
	switch e.Type {
	case KindCallAccepted:
		return true
	case KindCallRejected:
		return false
	}
	return e.Accepted != nil && *e.Accepted
}

// Clone returns a shallow copy safe for rewriting From before forwarding.
func (e Envelope) Clone() Envelope {
	if e.Users != nil {
		e.Users = append([]string(nil), e.Users...)
	}
	if e.Rooms != nil {
		e.Rooms = append([]RoomInfo(nil), e.Rooms...)
	}
	return e
}

func System(msg string) Envelope { return Envelope{Type: KindSystem, Msg: msg} }
func Error(msg string) Envelope  { return Envelope{Type: KindError, Msg: msg} }
