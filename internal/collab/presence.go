package collab

import (
	"sort"
	"sync"
)

// PresenceManager tracks which clients of a session are connected and in
// which role.
type PresenceManager struct {
	mu    sync.RWMutex
	peers map[string]Role // clientID -> role
}

func NewPresenceManager() *PresenceManager {
	return &PresenceManager{
		peers: make(map[string]Role),
	}
}

func (pm *PresenceManager) Add(clientID string, role Role) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.peers[clientID] = role
}

func (pm *PresenceManager) Remove(clientID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.peers, clientID)
}

// Count returns how many clients hold role.
func (pm *PresenceManager) Count(role Role) int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	n := 0
	for _, r := range pm.peers {
		if r == role {
			n++
		}
	}
	return n
}

// All returns the connected peers ordered by client id.
func (pm *PresenceManager) All() []Peer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	result := make([]Peer, 0, len(pm.peers))
	for id, role := range pm.peers {
		result = append(result, Peer{ClientID: id, Role: role})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID < result[j].ClientID })
	return result
}

func (pm *PresenceManager) StateMessage() *Message {
	return &Message{
		Type:  TypePeerState,
		Peers: pm.All(),
	}
}
