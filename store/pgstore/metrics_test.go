package pgstore

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPoolCollectorRegistersRepeatedly(t *testing.T) {
	for i := 1; i <= 5; i++ {
		c := newPoolCollector("myuser", "myhost", "mydbname", func() stat { return &pgxStatMock{} })
		if err := prometheus.Register(c); err != nil {
			t.Errorf("Register %d: %v", i, err)
		}
	}
}

func TestPoolCollectorValues(t *testing.T) {
	mock := &pgxStatMock{
		acquireCount:    7,
		acquireDuration: 1500 * time.Millisecond,
		idleConns:       2,
		maxConns:        4,
	}
	c := newPoolCollector("u", "h", "n", func() stat { return mock })

	if want, have := 9, testutil.CollectAndCount(c); want != have {
		t.Fatalf("metric count: want %d, have %d", want, have)
	}

	const want = `
# HELP escrow_pgxpool_acquire_seconds_total Total duration of all successful acquires from the pool.
# TYPE escrow_pgxpool_acquire_seconds_total counter
escrow_pgxpool_acquire_seconds_total{db_host="h",db_name="n",db_procpoolid="ID",db_user="u"} 1.5
# HELP escrow_pgxpool_idle_conns Number of currently idle conns in the pool.
# TYPE escrow_pgxpool_idle_conns gauge
escrow_pgxpool_idle_conns{db_host="h",db_name="n",db_procpoolid="ID",db_user="u"} 2
`
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	expected := strings.ReplaceAll(want, `"ID"`, `"`+poolIDOf(t, reg)+`"`)
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"escrow_pgxpool_acquire_seconds_total",
		"escrow_pgxpool_idle_conns",
	); err != nil {
		t.Fatal(err)
	}
}

func poolIDOf(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "db_procpoolid" {
					return l.GetValue()
				}
			}
		}
	}
	t.Fatal("no db_procpoolid label")
	return ""
}

type pgxStatMock struct {
	acquireCount         int64
	acquireDuration      time.Duration
	canceledAcquireCount int64
	emptyAcquireCount    int64
	acquiredConns        int32
	constructingConns    int32
	idleConns            int32
	maxConns             int32
	totalConns           int32
}

var _ stat = (*pgxStatMock)(nil)

func (m *pgxStatMock) AcquireCount() int64            { return m.acquireCount }
func (m *pgxStatMock) AcquireDuration() time.Duration { return m.acquireDuration }
func (m *pgxStatMock) AcquiredConns() int32           { return m.acquiredConns }
func (m *pgxStatMock) CanceledAcquireCount() int64    { return m.canceledAcquireCount }
func (m *pgxStatMock) ConstructingConns() int32       { return m.constructingConns }
func (m *pgxStatMock) EmptyAcquireCount() int64       { return m.emptyAcquireCount }
func (m *pgxStatMock) IdleConns() int32               { return m.idleConns }
func (m *pgxStatMock) MaxConns() int32                { return m.maxConns }
func (m *pgxStatMock) TotalConns() int32              { return m.totalConns }
