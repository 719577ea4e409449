package server

import (
	"errors"
	"sort"
	"sync"

	"github.com/gamegineer/tablenet/pkg/protocol"
)

var errManagerClosed = errors.New("connection manager closed")

// ConnectionManager tracks every live controller, bound or not.
type ConnectionManager struct {
	controllers map[uint64]*Controller
	nextID      uint64
	closed      bool
	mu          sync.RWMutex
	metrics     *Metrics
}

// NewConnectionManager creates an empty manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		controllers: make(map[uint64]*Controller),
		nextID:      1,
	}
}

// SetMetrics attaches metrics to the manager
func (cm *ConnectionManager) SetMetrics(metrics *Metrics) {
	cm.metrics = metrics
}

// NextID allocates a connection id.
func (cm *ConnectionManager) NextID() uint64 {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	id := cm.nextID
	cm.nextID++
	return id
}

// Add starts tracking c. It fails once CloseAll has run.
func (cm *ConnectionManager) Add(c *Controller) error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return errManagerClosed
	}
	cm.controllers[c.ID] = c
	count := len(cm.controllers)
	cm.mu.Unlock()

	if cm.metrics != nil {
		cm.metrics.RecordActiveConnections(count)
	}
	return nil
}

// Remove stops tracking the controller with the given id.
func (cm *ConnectionManager) Remove(id uint64) {
	cm.mu.Lock()
	if _, ok := cm.controllers[id]; !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.controllers, id)
	count := len(cm.controllers)
	cm.mu.Unlock()

	if cm.metrics != nil {
		cm.metrics.RecordActiveConnections(count)
	}
}

// Get returns a controller by id.
func (cm *ConnectionManager) Get(id uint64) (*Controller, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	c, ok := cm.controllers[id]
	return c, ok
}

// All returns the tracked controllers ordered by id.
func (cm *ConnectionManager) All() []*Controller {
	cm.mu.RLock()
	all := make([]*Controller, 0, len(cm.controllers))
	for _, c := range cm.controllers {
		all = append(all, c)
	}
	cm.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

// Count returns the number of tracked controllers.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.controllers)
}

// CloseAll closes every controller with code and refuses new ones.
func (cm *ConnectionManager) CloseAll(code protocol.TableNetworkError) {
	cm.mu.Lock()
	cm.closed = true
	all := make([]*Controller, 0, len(cm.controllers))
	for _, c := range cm.controllers {
		all = append(all, c)
	}
	cm.controllers = make(map[uint64]*Controller)
	cm.mu.Unlock()

	// Close outside the lock; Close reaches back into the node and hooks
	for _, c := range all {
		c.Close(code)
	}

	if cm.metrics != nil {
		cm.metrics.RecordActiveConnections(0)
	}
}
