package collab

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/pixelveil/pixelveil/backend-go/internal/region"
)

const maxHandoffRegions = 4096

var ErrInvalidHandoff = errors.New("invalid handoff")

// HandoffState holds the latest handoff of one session: the image the host
// opened for editing and the region collection the editor last applied.
// Every accepted change bumps the sequence number.
type HandoffState struct {
	mu      sync.RWMutex
	seq     int64
	imageID string
	regions []region.Region
	applied bool
}

func NewHandoffState() *HandoffState {
	return &HandoffState{}
}

// OpenImage records the image under edit and drops any earlier collection.
func (hs *HandoffState) OpenImage(imageID string) int64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.imageID = imageID
	hs.regions = nil
	hs.applied = false
	hs.seq++
	return hs.seq
}

// Apply validates and stores a full region collection.
func (hs *HandoffState) Apply(regions []region.Region) (int64, error) {
	if len(regions) > maxHandoffRegions {
		return 0, fmt.Errorf("%w: %d regions exceeds %d", ErrInvalidHandoff, len(regions), maxHandoffRegions)
	}
	for i, r := range regions {
		if r.Effect == nil {
			return 0, fmt.Errorf("%w: region %d has no effect", ErrInvalidHandoff, i)
		}
		if _, _, _, _, ok := region.Normalize(r.X, r.Y, r.Width, r.Height); !ok {
			return 0, fmt.Errorf("%w: region %d has invalid geometry", ErrInvalidHandoff, i)
		}
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.regions = slices.Clone(regions)
	hs.applied = true
	hs.seq++
	return hs.seq, nil
}

// Cancel discards the pending collection.
func (hs *HandoffState) Cancel() int64 {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.regions = nil
	hs.applied = false
	hs.seq++
	return hs.seq
}

// Snapshot returns the current image id, the applied collection (nil when
// none is pending) and the sequence number.
func (hs *HandoffState) Snapshot() (imageID string, regions []region.Region, applied bool, seq int64) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.imageID, slices.Clone(hs.regions), hs.applied, hs.seq
}

// ReplayFor returns the messages a client joining late in role needs to
// catch up: editors learn the open image, hosts receive a pending apply.
func (hs *HandoffState) ReplayFor(role Role) []*Message {
	imageID, regions, applied, seq := hs.Snapshot()
	var msgs []*Message
	switch role {
	case RoleEditor:
		if imageID != "" {
			msgs = append(msgs, &Message{Type: TypeOpenImage, ImageID: imageID, Seq: seq})
		}
	case RoleHost:
		if applied {
			msgs = append(msgs, &Message{Type: TypeApplyRegions, ImageID: imageID, Regions: regions, Seq: seq})
		}
	}
	return msgs
}
