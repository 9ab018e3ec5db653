package bridge

import (
	"log"

	"github.com/google/uuid"

	"lockstep.ai/internal/host"
)

// activation is the bridge context between enabling the bridge and the
// connection being torn down. Everything in it is touched from the
// simulation thread only.
type activation struct {
	id string

	encoder   *Encoder
	snapshots *Snapshots

	pendingReset bool

	episode  *Episode
	episodes int
}

func newActivation(target host.Vec2, logger *log.Logger) *activation {
	return &activation{
		id:        uuid.NewString(),
		encoder:   NewEncoder(target),
		snapshots: NewSnapshots(logger),
	}
}
