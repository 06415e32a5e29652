package connector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
)

// Factory is a function that creates a new Connector instance.
type Factory func() Connector

// PoolOptions size the shared pool of a networked backend.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolSize bounds a pool when the spec does not say otherwise.
const DefaultPoolSize = 10

func (o PoolOptions) size() int64 {
	if o.MaxOpenConns > 0 {
		return int64(o.MaxOpenConns)
	}
	return DefaultPoolSize
}

// Shared is a driver-level pool that many Connector handles can borrow.
type Shared interface {
	Ping(ctx context.Context) error
	Close() error
}

// Poolable connectors can attach to a Shared pool instead of opening their
// own connection. Networked adapters implement it.
type Poolable interface {
	Connector
	OpenShared(ctx context.Context, spec ConnectionSpec) (Shared, error)
	Attach(shared Shared, spec ConnectionSpec) error
}

type pool struct {
	driver string
	shared Shared
	sem    *semaphore.Weighted
	size   int64

	mu    sync.Mutex
	inUse int64
}

// PoolStats describes one live pool.
type PoolStats struct {
	Driver string `json:"driver"`
	Size   int64  `json:"size"`
	InUse  int64  `json:"in_use"`
}

// Registry manages connector factories and the shared pools of networked
// backends. File backends get a fresh handle per Acquire.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	pools     map[string]*pool // keyed by driver and DSN digest

	// opening collapses concurrent first dials of one pool. Dials run
	// outside mu so a slow server never stalls other backends.
	opening singleflight.Group
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		pools:     make(map[string]*pool),
	}
}

// RegisterDriver registers a connector factory for a driver type.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableDrivers()
}

// Acquire returns a connected handle for spec. The caller owns it and must
// call Disconnect on every exit path; for pooled backends that returns the
// slot to the pool. A full pool fails immediately with a
// resource_exhausted error.
func (r *Registry) Acquire(ctx context.Context, spec ConnectionSpec) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.KindInvalidRequest,
			"unsupported driver: %q (available: %v)", spec.Driver, r.Drivers())
	}

	conn := factory()
	pc, poolable := conn.(Poolable)
	if !poolable || spec.FileBased() {
		if err := conn.Connect(ctx, spec); err != nil {
			conn.Disconnect()
			return nil, connectionError(spec, err)
		}
		return conn, nil
	}

	p, err := r.pool(ctx, pc, spec)
	if err != nil {
		return nil, connectionError(spec, err)
	}
	if !p.sem.TryAcquire(1) {
		return nil, apperr.Newf(apperr.KindResourceExhausted,
			"connection pool for %s is exhausted (%d in use)", spec.Driver, p.size)
	}
	p.track(1)

	if err := pc.Attach(p.shared, spec); err != nil {
		p.track(-1)
		p.sem.Release(1)
		return nil, connectionError(spec, err)
	}
	return &leased{Poolable: pc, release: func() {
		p.track(-1)
		p.sem.Release(1)
	}}, nil
}

// pool returns the shared pool for spec, opening it on first use.
func (r *Registry) pool(ctx context.Context, pc Poolable, spec ConnectionSpec) (*pool, error) {
	key := poolKey(spec)
	if p, ok := r.lookup(key); ok {
		return p, nil
	}

	v, err, _ := r.opening.Do(key, func() (any, error) {
		if p, ok := r.lookup(key); ok {
			return p, nil
		}
		shared, err := pc.OpenShared(ctx, spec)
		if err != nil {
			return nil, err
		}
		size := spec.Pool.size()
		p := &pool{
			driver: spec.Driver,
			shared: shared,
			sem:    semaphore.NewWeighted(size),
			size:   size,
		}
		r.mu.Lock()
		r.pools[key] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pool), nil
}

func (r *Registry) lookup(key string) (*pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[key]
	return p, ok
}

func (p *pool) track(delta int64) {
	p.mu.Lock()
	p.inUse += delta
	p.mu.Unlock()
}

// Stats returns the live pools, ordered by driver.
func (r *Registry) Stats() []PoolStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]PoolStats, 0, len(r.pools))
	for _, p := range r.pools {
		p.mu.Lock()
		stats = append(stats, PoolStats{Driver: p.driver, Size: p.size, InUse: p.inUse})
		p.mu.Unlock()
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Driver < stats[j].Driver })
	return stats
}

// Ping checks every live pool and returns the first failure.
func (r *Registry) Ping(ctx context.Context) error {
	r.mu.RLock()
	pools := make([]*pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	for _, p := range pools {
		if err := p.shared.Ping(ctx); err != nil {
			return fmt.Errorf("%s pool: %w", p.driver, err)
		}
	}
	return nil
}

// Evict closes the pool serving spec, if one is open. Used when a saved
// source is removed or its credentials change.
func (r *Registry) Evict(spec ConnectionSpec) error {
	key := poolKey(spec)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pools[key]
	if !ok {
		return nil
	}
	delete(r.pools, key)
	return p.shared.Close()
}

// CloseAll closes every shared pool.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.pools {
		p.shared.Close()
		delete(r.pools, key)
	}
}

func (r *Registry) availableDrivers() []string {
	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

// poolKey identifies a pool without keeping credentials in memory as map
// keys.
func poolKey(spec ConnectionSpec) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%s\x00%s\x00%s\x00%s\x00%t",
		spec.Driver, spec.DSN, spec.Host, spec.Port, spec.User, spec.Password,
		spec.Database, spec.Schema, spec.AllowMutations)
	return spec.Driver + ":" + hex.EncodeToString(h.Sum(nil))
}

// connectionError classifies a connect failure without leaking the spec.
func connectionError(spec ConnectionSpec, err error) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	return apperr.Wrap(err, apperr.KindConnection,
		fmt.Sprintf("could not connect to %s: %s", spec.Driver, spec.Redact(err.Error())))
}

// leased is a pooled handle. Disconnect detaches it and frees its slot.
type leased struct {
	Poolable
	once    sync.Once
	release func()
}

func (l *leased) Disconnect() error {
	var err error
	l.once.Do(func() {
		err = l.Poolable.Disconnect()
		l.release()
	})
	return err
}
