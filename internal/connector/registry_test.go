package connector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// mockShared counts how often the Registry opens and closes pools.
type mockShared struct {
	mu     sync.Mutex
	closed bool
}

func (s *mockShared) Ping(context.Context) error { return nil }
func (s *mockShared) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// mockConnector implements Poolable without a real database.
type mockConnector struct {
	opened       *int
	connected    bool
	disconnected int
	spec         ConnectionSpec
	shared       Shared
}

func (m *mockConnector) Connect(_ context.Context, spec ConnectionSpec) error {
	if spec.DSN == "fail" {
		return errors.New("dial tcp: password=hunter22 refused")
	}
	m.connected = true
	m.spec = spec
	return nil
}
func (m *mockConnector) Disconnect() error {
	m.disconnected++
	m.connected = false
	return nil
}
func (m *mockConnector) Ping(context.Context) error { return nil }
func (m *mockConnector) IntrospectSchema(context.Context) (*model.Schema, error) {
	return &model.Schema{}, nil
}
func (m *mockConnector) Execute(context.Context, model.Statement, int) (*model.ExecutionResult, error) {
	return &model.ExecutionResult{}, nil
}
func (m *mockConnector) DriverName() string                 { return "mock" }
func (m *mockConnector) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (m *mockConnector) CaseInsensitive() bool              { return false }
func (m *mockConnector) IsSystemTable(string) bool          { return false }

func (m *mockConnector) OpenShared(_ context.Context, spec ConnectionSpec) (Shared, error) {
	if spec.DSN == "fail" {
		return nil, errors.New("dial tcp: refused")
	}
	*m.opened++
	return &mockShared{}, nil
}
func (m *mockConnector) Attach(shared Shared, spec ConnectionSpec) error {
	m.shared = shared
	m.spec = spec
	m.connected = true
	return nil
}

func newTestRegistry(opened *int) *Registry {
	r := NewRegistry()
	r.RegisterDriver("mock", func() Connector { return &mockConnector{opened: opened} })
	return r
}

func TestRegistryUnknownDriver(t *testing.T) {
	r := NewRegistry()
	_, err := r.Acquire(context.Background(), ConnectionSpec{Driver: "oracle"})
	if !apperr.IsKind(err, apperr.KindInvalidRequest) {
		t.Fatalf("err = %v, want invalid_request", err)
	}
}

func TestRegistryDrivers(t *testing.T) {
	r := NewRegistry()
	for _, d := range []string{"sqlite", "mysql", "mongo"} {
		r.RegisterDriver(d, func() Connector { return &mockConnector{} })
	}
	got := strings.Join(r.Drivers(), ",")
	if got != "mongo,mysql,sqlite" {
		t.Errorf("Drivers() = %s", got)
	}
}

func TestRegistrySharesPool(t *testing.T) {
	opened := 0
	r := newTestRegistry(&opened)
	spec := ConnectionSpec{Driver: "mock", DSN: "db://one"}
	ctx := context.Background()

	a, err := r.Acquire(ctx, spec)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := r.Acquire(ctx, spec)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if opened != 1 {
		t.Errorf("pools opened = %d, want 1", opened)
	}

	stats := r.Stats()
	if len(stats) != 1 || stats[0].InUse != 2 || stats[0].Size != DefaultPoolSize {
		t.Errorf("stats = %+v", stats)
	}

	a.Disconnect()
	a.Disconnect()
	b.Disconnect()
	if stats := r.Stats(); stats[0].InUse != 0 {
		t.Errorf("in use after release = %d", stats[0].InUse)
	}
}

func TestRegistryExhausted(t *testing.T) {
	opened := 0
	r := newTestRegistry(&opened)
	spec := ConnectionSpec{Driver: "mock", DSN: "db://one", Pool: PoolOptions{MaxOpenConns: 2}}
	ctx := context.Background()

	var held []Connector
	for i := 0; i < 2; i++ {
		c, err := r.Acquire(ctx, spec)
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		held = append(held, c)
	}

	_, err := r.Acquire(ctx, spec)
	if !apperr.IsKind(err, apperr.KindResourceExhausted) {
		t.Fatalf("third Acquire err = %v, want resource_exhausted", err)
	}

	held[0].Disconnect()
	c, err := r.Acquire(ctx, spec)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	c.Disconnect()
	held[1].Disconnect()
}

func TestRegistryFileDriverNotPooled(t *testing.T) {
	opened := 0
	r := NewRegistry()
	r.RegisterDriver("sqlite", func() Connector { return &mockConnector{opened: &opened} })

	c, err := r.Acquire(context.Background(), ConnectionSpec{Driver: "sqlite", Path: "x.db"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, ok := c.(*mockConnector); !ok {
		t.Errorf("file driver handle is %T, want the connector itself", c)
	}
	if opened != 0 || len(r.Stats()) != 0 {
		t.Error("file driver opened a shared pool")
	}
}

func TestRegistryConnectErrorRedacted(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("sqlite", func() Connector { return &mockConnector{} })

	_, err := r.Acquire(context.Background(), ConnectionSpec{Driver: "sqlite", DSN: "fail"})
	if !apperr.IsKind(err, apperr.KindConnection) {
		t.Fatalf("err = %v, want connection_error", err)
	}
	if strings.Contains(err.Error(), "hunter22") {
		t.Errorf("password leaked: %v", err)
	}
}

func TestRegistryEvictAndCloseAll(t *testing.T) {
	opened := 0
	r := newTestRegistry(&opened)
	ctx := context.Background()
	one := ConnectionSpec{Driver: "mock", DSN: "db://one"}
	two := ConnectionSpec{Driver: "mock", DSN: "db://two"}

	for _, spec := range []ConnectionSpec{one, two} {
		c, err := r.Acquire(ctx, spec)
		if err != nil {
			t.Fatal(err)
		}
		c.Disconnect()
	}
	if len(r.Stats()) != 2 {
		t.Fatalf("stats = %+v", r.Stats())
	}

	if err := r.Evict(one); err != nil {
		t.Fatal(err)
	}
	if len(r.Stats()) != 1 {
		t.Errorf("after Evict stats = %+v", r.Stats())
	}
	if err := r.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	r.CloseAll()
	if len(r.Stats()) != 0 {
		t.Errorf("after CloseAll stats = %+v", r.Stats())
	}
}

// gatedConnector dials only once gate is closed.
type gatedConnector struct {
	mockConnector
	gate    chan struct{}
	entered chan struct{}
	dials   *atomic.Int32
}

func (g *gatedConnector) DriverName() string { return "slow" }

func (g *gatedConnector) OpenShared(ctx context.Context, _ ConnectionSpec) (Shared, error) {
	g.dials.Add(1)
	g.entered <- struct{}{}
	select {
	case <-g.gate:
		return &mockShared{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRegistrySlowDialDoesNotBlockOthers(t *testing.T) {
	opened := 0
	r := newTestRegistry(&opened)
	t.Cleanup(r.CloseAll)

	var dials atomic.Int32
	gate := make(chan struct{})
	entered := make(chan struct{}, 4)
	r.RegisterDriver("slow", func() Connector {
		return &gatedConnector{gate: gate, entered: entered, dials: &dials}
	})

	slow := ConnectionSpec{Driver: "slow", DSN: "db://slow"}
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := r.Acquire(context.Background(), slow)
			if err == nil {
				c.Disconnect()
			}
			errs <- err
		}()
	}
	<-entered

	done := make(chan error, 1)
	go func() {
		c, err := r.Acquire(context.Background(), ConnectionSpec{Driver: "mock", DSN: "db://one"})
		if err == nil {
			c.Disconnect()
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Acquire on mock: %v", err)
		}
	case <-time.After(2 * time.Second):
		close(gate)
		t.Fatal("Acquire on mock waited for the slow dial")
	}

	close(gate)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Acquire on slow: %v", err)
		}
	}
	if n := dials.Load(); n != 1 {
		t.Errorf("slow pool dialed %d times, want 1", n)
	}
}
