package podmonitor

import (
	"context"
	"fmt"
	"regexp"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/safelog"
)

// SelectionError is returned synchronously when the selection parameters
// themselves are invalid (bad regex).
type SelectionError struct {
	Reason string
}

func (e *SelectionError) Error() string { return "podmonitor: selection error: " + e.Reason }

// Session is one selection-watch-reduce run: the pods matching the
// selection criteria at start time, plus everything observed about them
// (and any successors) until the watch ends.
type Session struct {
	gw   gateway.ClusterGateway
	sink *safelog.Sink

	namePattern      *regexp.Regexp
	namespacePattern *regexp.Regexp

	snapshot *PodsSnapshot

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// matchesAnchored reproduces Python's re.match (start-anchored) semantics
// on top of Go's unanchored regexp package. A nil pattern always matches.
func matchesAnchored(re *regexp.Regexp, s string) bool {
	if re == nil {
		return true
	}
	loc := re.FindStringIndex(s)
	return loc != nil && loc[0] == 0
}

// SelectByLabel selects pods by label selector across all namespaces.
func SelectByLabel(ctx context.Context, gw gateway.ClusterGateway, sink *safelog.Sink, labelSelector string, maxTimeout time.Duration) (*Session, error) {
	return newSession(ctx, gw, sink, labelSelector, "", "", maxTimeout)
}

// SelectByNamespaceAndLabel selects pods by label selector, restricted to
// namespaces whose name start-matches namespacePattern.
func SelectByNamespaceAndLabel(ctx context.Context, gw gateway.ClusterGateway, sink *safelog.Sink, namespacePattern, labelSelector string, maxTimeout time.Duration) (*Session, error) {
	return newSession(ctx, gw, sink, labelSelector, "", namespacePattern, maxTimeout)
}

// SelectByNameAndNamespace selects pods whose name and namespace both
// start-match the given patterns.
func SelectByNameAndNamespace(ctx context.Context, gw gateway.ClusterGateway, sink *safelog.Sink, namePattern, namespacePattern string, maxTimeout time.Duration) (*Session, error) {
	return newSession(ctx, gw, sink, "", namePattern, namespacePattern, maxTimeout)
}

func newSession(ctx context.Context, gw gateway.ClusterGateway, sink *safelog.Sink, labelSelector, namePattern, namespacePattern string, maxTimeout time.Duration) (*Session, error) {
	var nameRE, namespaceRE *regexp.Regexp
	var err error
	if namePattern != "" {
		nameRE, err = regexp.Compile(namePattern)
		if err != nil {
			return nil, &SelectionError{Reason: fmt.Sprintf("invalid pod name pattern %q: %v", namePattern, err)}
		}
	}
	if namespacePattern != "" {
		namespaceRE, err = regexp.Compile(namespacePattern)
		if err != nil {
			return nil, &SelectionError{Reason: fmt.Sprintf("invalid namespace pattern %q: %v", namespacePattern, err)}
		}
	}

	listResult, err := gw.ListPods(ctx, labelSelector, "")
	if err != nil {
		// A failed initial list is reported through the session's
		// RecoveryReport.Error, like a failed watch, rather than returned.
		failed := &Session{
			gw: gw, sink: sink, snapshot: newSnapshot(),
			cancel: func() {}, done: make(chan struct{}),
			err: fmt.Errorf("podmonitor: selecting pods: %w", err),
		}
		close(failed.done)
		return failed, nil
	}

	snapshot := newSnapshot()
	snapshot.ResourceVersion = listResult.ResourceVersion
	for _, pod := range listResult.Pods {
		if !matchesAnchored(nameRE, pod.Name) || !matchesAnchored(namespaceRE, pod.Namespace) {
			continue
		}
		snapshot.InitialPods = append(snapshot.InitialPods, pod.Name)
		snapshot.Pods[pod.Name] = &MonitoredPod{Name: pod.Name, Namespace: pod.Namespace}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		gw:               gw,
		sink:             sink,
		namePattern:      nameRE,
		namespacePattern: namespaceRE,
		snapshot:         snapshot,
		cancel:           cancel,
		done:             make(chan struct{}),
	}

	go s.watch(watchCtx, labelSelector, maxTimeout)
	return s, nil
}

// Cancel stops the watch at the next event boundary.
func (s *Session) Cancel() { s.cancel() }

// Await blocks until the watch completes (by timeout, cancellation, or
// early-stop once every initial pod has been observed ready again) and
// returns the resulting snapshot.
func (s *Session) Await() *PodsSnapshot {
	<-s.done
	return s.snapshot
}

func (s *Session) watch(ctx context.Context, labelSelector string, maxTimeout time.Duration) {
	defer close(s.done)
	defer s.cancel()

	if len(s.snapshot.InitialPods) == 0 {
		return
	}

	events, err := s.gw.WatchPods(ctx, s.snapshot.ResourceVersion, labelSelector, "", maxTimeout)
	if err != nil {
		s.err = fmt.Errorf("podmonitor: opening watch: %w", err)
		if s.sink != nil {
			s.sink.Error("podmonitor: opening watch failed: %v", s.err)
		}
		return
	}

	restored := make(map[string]bool)
	for evt := range events {
		if evt.Pod == nil {
			continue
		}
		name := evt.Pod.Name
		namespace := evt.Pod.Namespace
		if !matchesAnchored(s.namePattern, name) || !matchesAnchored(s.namespacePattern, namespace) {
			continue
		}

		switch evt.Type {
		case gateway.Added:
			s.snapshot.AddedPods = append(s.snapshot.AddedPods, name)
			if _, ok := s.snapshot.Pods[name]; !ok {
				s.snapshot.Pods[name] = &MonitoredPod{Name: name, Namespace: namespace}
			}
			s.recordEvent(name, StatusAdded)

		case gateway.Modified:
			if evt.Pod.DeletionTimestamp != nil {
				s.recordEventIfTracked(name, StatusDeletionScheduled)
			} else if isPodReady(evt.Pod) {
				if s.recordEventIfTracked(name, StatusReady) {
					restored[name] = true
					if len(restored) >= len(s.snapshot.InitialPods) {
						return
					}
				}
			} else {
				s.recordEventIfTracked(name, StatusNotReady)
			}

		case gateway.Deleted:
			s.recordEventIfTracked(name, StatusDeleted)
		}
	}
}

func (s *Session) recordEvent(name string, status PodStatus) {
	pod := s.snapshot.Pods[name]
	pod.StatusChanges = append(pod.StatusChanges, NewPodEvent(status, nowSeconds()))
}

// recordEventIfTracked appends the event only when name already belongs to
// the snapshot; events for pods outside the selection are ignored.
func (s *Session) recordEventIfTracked(name string, status PodStatus) bool {
	if _, ok := s.snapshot.Pods[name]; !ok {
		return false
	}
	s.recordEvent(name, status)
	return true
}

func isPodReady(pod *corev1.Pod) bool {
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}
