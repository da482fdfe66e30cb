package domain

import "net/netip"

// Member represents a connected user's participation meta.
// No transport or lifecycle logic here.
type Member struct {
	User *User
	// RemoteIP is the control connection's observed peer address; media
	// registration binds the advertised port to it.
	RemoteIP netip.Addr
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user *User, remoteIP netip.Addr) *Member {
	return &Member{User: user, RemoteIP: remoteIP}
}
