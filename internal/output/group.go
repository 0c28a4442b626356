package output

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/brickrunner/internal/packet"
	"github.com/GriffinCanCode/brickrunner/internal/queue"
)

// group is the queue shared by the consumers of one downstream brick.
type group struct {
	port    string
	name    string
	brickID string
	queue   *queue.Queue[*packet.Packet]

	mu     sync.Mutex
	policy SlowQueuePolicy
}

func newGroup(port, name, brickID string, policy SlowQueuePolicy) *group {
	if brickID == "" {
		brickID = name
	}
	return &group{
		port:    port,
		name:    name,
		brickID: brickID,
		queue:   queue.New[*packet.Packet](),
		policy:  policy,
	}
}

func (g *group) observe(t time.Time, depth int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.policy.Observe(t, depth)
}
