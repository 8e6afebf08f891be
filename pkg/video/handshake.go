package video

import (
	"errors"

	"github.com/mscrnt/vidbridge/pkg/regport"
)

// RegSync bits. Request and timing ack are written by the bridge; the others
// belong to the output stage.
const (
	SyncRequest  = 1 << 0
	SyncAck      = 1 << 1
	TimingAck    = 1 << 2
	TimingStatus = 1 << 3
	Flyback      = 1 << 4
)

// DefaultSyncBudget is the number of register reads a sync waits for its
// acknowledgement. It was sized for a ~50MHz soft CPU; rescale it for the
// same wall-clock bound on faster hosts.
const DefaultSyncBudget = 10000000

var (
	// ErrSyncTimeout is returned when a sync request is not acknowledged
	// within the budget. The previous timing stays applied.
	ErrSyncTimeout = errors.New("video: sync not acknowledged")

	// ErrFlybackTimeout is returned when no flyback edge is seen within the
	// budget
	ErrFlybackTimeout = errors.New("video: no flyback")
)

// SyncResult describes one sync handshake
type SyncResult struct {
	Committed bool   `json:"committed"`
	Polls     int    `json:"polls"`
	Before    uint32 `json:"before"`
	Status    uint32 `json:"status"`
}

func bit(v uint32, mask uint32) uint32 {
	if v&mask != 0 {
		return 1
	}
	return 0
}

// Synced reports whether a sync register value has no sync outstanding
func Synced(s uint32) bool {
	return bit(s, SyncRequest) == bit(s, SyncAck)
}

// Sync toggles the sync request and polls until the output stage echoes it
// on the ack bit. When a request from an earlier timed-out sync is still
// outstanding it is polled for again instead of toggled, since toggling
// would withdraw it. Exactly budget reads are made before giving up; a
// budget below one is treated as one.
func Sync(port regport.Port, budget int) (SyncResult, error) {
	if budget < 1 {
		budget = 1
	}

	s := port.Read(RegSync)
	res := SyncResult{Before: s}
	if Synced(s) {
		port.Write(RegSync, s^SyncRequest)
	}

	for res.Polls < budget {
		s = port.Read(RegSync)
		res.Polls++
		if Synced(s) {
			res.Committed = true
			res.Status = s
			return res, nil
		}
	}
	res.Status = s
	return res, ErrSyncTimeout
}

// Pending reports whether the source has changed its timing since the last
// Acknowledge. It also returns the register value it tested.
func Pending(port regport.Port) (bool, uint32) {
	s := port.Read(RegSync)
	return bit(s, TimingStatus) != bit(s, TimingAck), s
}

// Acknowledge sets the timing ack to the status seen in observed, re-arming
// change detection. The register is re-read so a sync request issued since
// observed was taken is not undone. A change that arrived after observed
// stays pending.
func Acknowledge(port regport.Port, observed uint32) {
	s := port.Read(RegSync)
	s &^= TimingAck
	if observed&TimingStatus != 0 {
		s |= TimingAck
	}
	port.Write(RegSync, s)
}

// WaitFlyback waits for a falling edge of the flyback signal: first for it
// to go high, then low. Each phase makes at most budget reads. A budget
// below one returns at once without reading.
func WaitFlyback(port regport.Port, budget int) error {
	if budget < 1 {
		return nil
	}

	poll := func(want bool) bool {
		for reads := 0; reads < budget; reads++ {
			if (port.Read(RegSync)&Flyback != 0) == want {
				return true
			}
		}
		return false
	}

	if !poll(true) || !poll(false) {
		return ErrFlybackTimeout
	}
	return nil
}
