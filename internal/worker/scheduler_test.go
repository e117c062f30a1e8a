package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMaintainer struct {
	resets atomic.Int64
}

func (m *stubMaintainer) ResetStaleSyncing(context.Context, time.Duration) (int64, error) {
	m.resets.Add(1)
	return 0, nil
}

type stubPurger struct {
	purges atomic.Int64
}

func (p *stubPurger) PurgeExpired(context.Context) (int64, error) {
	p.purges.Add(1)
	return 0, nil
}

func TestSchedulerRunsTicks(t *testing.T) {
	syncer := &stubSyncer{}
	pool := NewPool(syncer, &stubLister{repos: makeRepos(1)}, 1, zerolog.Nop())
	maintainer := &stubMaintainer{}
	purger := &stubPurger{}

	s := NewScheduler(pool, maintainer, purger, 10*time.Millisecond, time.Minute, zerolog.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool {
		return maintainer.resets.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.GreaterOrEqual(t, purger.purges.Load(), int64(2))
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	pool := NewPool(&stubSyncer{}, &stubLister{}, 1, zerolog.Nop())
	s := NewScheduler(pool, &stubMaintainer{}, nil, time.Hour, time.Minute, zerolog.Nop())

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	pool := NewPool(&stubSyncer{}, &stubLister{}, 1, zerolog.Nop())
	s := NewScheduler(pool, &stubMaintainer{}, nil, time.Hour, time.Minute, zerolog.Nop())
	s.Stop()
}
