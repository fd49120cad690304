package server

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-guest-auth/guestauth"
	"github.com/jrsteele09/go-guest-auth/internal/metrics"
	"github.com/patrickmn/go-cache"
)

// MachineRegistry holds one verification machine per browser tab, keyed by
// the browser secret and tab. A machine not touched for the idle timeout is
// dropped with its state.
type MachineRegistry struct {
	mu       sync.Mutex
	machines *cache.Cache
	idle     time.Duration
	factory  func() (*guestauth.Machine, error)
}

func NewMachineRegistry(idle time.Duration, factory func() (*guestauth.Machine, error)) *MachineRegistry {
	if idle <= 0 {
		idle = 30 * time.Minute
	}
	r := &MachineRegistry{
		machines: cache.New(idle, idle/2),
		idle:     idle,
		factory:  factory,
	}
	r.machines.OnEvicted(func(string, interface{}) {
		metrics.ActiveMachines.Dec()
	})
	return r
}

// Get returns the machine for key, creating it on first use. Every call
// extends the machine's idle deadline.
func (r *MachineRegistry) Get(key string) (*guestauth.Machine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.machines.Get(key); ok {
		m := v.(*guestauth.Machine)
		r.machines.Set(key, m, r.idle)
		return m, nil
	}
	m, err := r.factory()
	if err != nil {
		return nil, err
	}
	r.machines.Set(key, m, r.idle)
	metrics.ActiveMachines.Inc()
	return m, nil
}

// Forget drops the machine for key.
func (r *MachineRegistry) Forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines.Delete(key)
}

func (r *MachineRegistry) Len() int {
	return r.machines.ItemCount()
}
