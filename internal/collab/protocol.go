package collab

import (
	"encoding/json"
	"fmt"

	"github.com/pixelveil/pixelveil/backend-go/internal/region"
)

// Role is the side of a handoff a client sits on. The host surface owns the
// document; the editor surface runs the redaction session.
type Role string

const (
	RoleHost   Role = "host"
	RoleEditor Role = "editor"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleHost, RoleEditor:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleHost {
		return RoleEditor
	}
	return RoleHost
}

// Message is the envelope for every frame on a session socket. Handoff
// messages carry the full region collection, never a delta.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Role      Role            `json:"role,omitempty"`
	Seq       int64           `json:"seq,omitempty"`
	ImageID   string          `json:"imageId,omitempty"`
	Regions   []region.Region `json:"regions,omitempty"`
	Peers     []Peer          `json:"peers,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// MarshalJSON always writes the regions key of an apply-regions message, so
// an empty collection is sent as "regions": [].
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	if m.Type != TypeApplyRegions {
		return json.Marshal(plain(m))
	}
	regions := m.Regions
	if regions == nil {
		regions = []region.Region{}
	}
	return json.Marshal(struct {
		plain
		Regions []region.Region `json:"regions"`
	}{plain(m), regions})
}

// Peer describes a connected client.
type Peer struct {
	ClientID string `json:"clientId"`
	Role     Role   `json:"role"`
}

const (
	// Handoff
	TypeApplyRegions = "apply-regions"
	TypeCancel       = "cancel"
	TypeOpenImage    = "open-image"

	// Connection
	TypeWelcome   = "welcome"
	TypePeerState = "peer.state"
	TypePeerJoin  = "peer.join"
	TypePeerLeave = "peer.leave"
	TypeError     = "error"
)
