package podmonitor

import (
	"context"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/safelog"
)

// Pool runs multiple independent PodObserver sessions concurrently and
// merges their recovery reports on Join. Sessions never observe each
// other's pods.
type Pool struct {
	gw   gateway.ClusterGateway
	sink *safelog.Sink

	mu       sync.Mutex
	sessions []*Session
	errs     []error
}

// NewPool builds an empty Pool bound to gw and sink.
func NewPool(gw gateway.ClusterGateway, sink *safelog.Sink) *Pool {
	return &Pool{gw: gw, sink: sink}
}

// AddByLabel schedules a session and returns once selection has finished;
// the watch itself runs in the background.
func (p *Pool) AddByLabel(ctx context.Context, labelSelector string, maxTimeout time.Duration) {
	p.add(func() (*Session, error) { return SelectByLabel(ctx, p.gw, p.sink, labelSelector, maxTimeout) })
}

// AddByNamespaceAndLabel schedules a session scoped to namespaces matching
// namespacePattern.
func (p *Pool) AddByNamespaceAndLabel(ctx context.Context, namespacePattern, labelSelector string, maxTimeout time.Duration) {
	p.add(func() (*Session, error) {
		return SelectByNamespaceAndLabel(ctx, p.gw, p.sink, namespacePattern, labelSelector, maxTimeout)
	})
}

// AddByNameAndNamespace schedules a session scoped to pod name and
// namespace patterns.
func (p *Pool) AddByNameAndNamespace(ctx context.Context, namePattern, namespacePattern string, maxTimeout time.Duration) {
	p.add(func() (*Session, error) {
		return SelectByNameAndNamespace(ctx, p.gw, p.sink, namePattern, namespacePattern, maxTimeout)
	})
}

func (p *Pool) add(selector func() (*Session, error)) {
	session, err := selector()
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errs = append(p.errs, err)
		return
	}
	p.sessions = append(p.sessions, session)
}

// Cancel signals every pending session to stop at its next event boundary.
func (p *Pool) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		s.Cancel()
	}
}

// Join awaits every scheduled session and merges their recovery reports. If
// any session (or selection attempt) failed, the merged report carries no
// recovered/unrecovered entries and its Error is the aggregate of every
// failure, matching PodsMonitorPool.join's ", ".join(errors) behavior.
func (p *Pool) Join() RecoveryReport {
	p.mu.Lock()
	sessions := append([]*Session(nil), p.sessions...)
	preErrs := append([]error(nil), p.errs...)
	p.mu.Unlock()

	reports := make([]RecoveryReport, len(sessions))
	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			s.Await()
			reports[i] = s.Reduce()
		}(i, s)
	}
	wg.Wait()

	errs := append([]error(nil), preErrs...)
	merged := RecoveryReport{}
	for _, r := range reports {
		if r.Error != nil {
			errs = append(errs, r.Error)
			continue
		}
		merged.Recovered = append(merged.Recovered, r.Recovered...)
		merged.Unrecovered = append(merged.Unrecovered, r.Unrecovered...)
	}
	if len(errs) > 0 {
		merged.Recovered = nil
		merged.Unrecovered = nil
		merged.Error = utilerrors.NewAggregate(errs)
	}
	return merged
}
