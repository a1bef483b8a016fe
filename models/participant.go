package models

import (
	"sync"
	"time"

	"github.com/aukilabs/raido/wire"
)

// A session participant.
type Participant struct {
	ID        uint32
	Responder wire.ResponseSender
	JoinedAt  time.Time

	mutex sync.RWMutex
	pose  Pose
}

// SetPose records the participant's latest device pose.
func (p *Participant) SetPose(v Pose) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.pose = v
}

func (p *Participant) Pose() Pose {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.pose
}
