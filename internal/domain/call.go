package domain

type CallMode string

const (
	CallAudio CallMode = "audio"
	CallVideo CallMode = "video"
	CallBoth  CallMode = "both"
)

// CallType distinguishes a two-party call from a room-wide call.
type CallType string

const (
	CallPrivate CallType = "private"
	CallGroup   CallType = "group"
)

// PrivateCall is a read-only view of an accepted two-party call.
type PrivateCall struct {
	A string `json:"a"`
	B string `json:"b"`
}

// GroupCall is a read-only view of a room's active call.
type GroupCall struct {
	Room         RoomName `json:"room"`
	Participants []string `json:"participants"`
}
