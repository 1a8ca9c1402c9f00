// Package podmonitor selects a set of pods, watches them for the rest of a
// session, and reduces the observed events into a recovery report. It is a
// direct port of krkn_lib's pod_monitor package: selection by label or by
// name/namespace regex, an append-only per-pod event log, and a reduction
// algorithm that classifies each initially-selected pod as recovered or
// unrecovered.
package podmonitor

// PodStatus enumerates the recorded lifecycle events for a monitored pod.
type PodStatus int

const (
	StatusReady PodStatus = iota + 1
	StatusNotReady
	StatusDeletionScheduled
	StatusDeleted
	StatusAdded
)

func (s PodStatus) String() string {
	switch s {
	case StatusReady:
		return "READY"
	case StatusNotReady:
		return "NOT_READY"
	case StatusDeletionScheduled:
		return "DELETION_SCHEDULED"
	case StatusDeleted:
		return "DELETED"
	case StatusAdded:
		return "ADDED"
	default:
		return "UNKNOWN"
	}
}

// PodEvent is one observation on a pod. The timestamp is fixed at
// construction and never mutated afterward. Parent, when set, names the pod
// this one replaced; nothing in this module currently populates it (neither
// did the original), so reduction always falls back to the namespace/timing
// heuristic in findSuccessor.
type PodEvent struct {
	Status    PodStatus
	Parent    string
	timestamp float64
}

// NewPodEvent builds a PodEvent stamped at nowSeconds.
func NewPodEvent(status PodStatus, nowSeconds float64) PodEvent {
	return PodEvent{Status: status, timestamp: nowSeconds}
}

// Timestamp returns the event's fixed creation time, in fractional seconds.
func (e PodEvent) Timestamp() float64 { return e.timestamp }

// MonitoredPod is the per-pod event history collected during one session.
type MonitoredPod struct {
	Name          string
	Namespace     string
	StatusChanges []PodEvent
}

// PodsSnapshot is the state of one observation session: the pods selected at
// the start, any pod names observed via an ADDED event afterward, and every
// tracked pod's event log.
type PodsSnapshot struct {
	ResourceVersion string
	InitialPods     []string
	AddedPods       []string
	Pods            map[string]*MonitoredPod
}

func newSnapshot() *PodsSnapshot {
	return &PodsSnapshot{Pods: make(map[string]*MonitoredPod)}
}

// AffectedPod is one pod's recovery verdict, positive timing fields set only
// when the corresponding transition was actually observed.
type AffectedPod struct {
	PodName   string
	Namespace string

	// PodReschedulingTime is the delay between a pod being scheduled for
	// deletion and its successor's ADDED event. It is not clamped, but only
	// an ADDED event recorded after the deletion event is used: a successor
	// added before the deletion event was observed is not matched, so no
	// negative value is produced.
	PodReschedulingTime *float64
	PodReadinessTime    *float64
	TotalRecoveryTime   *float64
}

// RecoveryReport is the outcome of reducing one session (or a pool of
// sessions). Error is set only on a genuine transport failure; a pod that
// never came back is represented as an Unrecovered entry, not an error.
type RecoveryReport struct {
	Recovered   []AffectedPod
	Unrecovered []AffectedPod
	Error       error
}
