// Package gateway defines the minimal cluster API contract the rest of
// this module depends on, so that podmonitor, archive, and telemetry can be
// tested against a fake without touching a real cluster. It plays the same
// role the teacher's executor/forwarder/podChecker interfaces play for
// pkg/cli/rsync: narrow, composable, mockable.
package gateway

import (
	"context"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// TransportError wraps any non-2xx response or connection failure from the
// cluster API, letting callers distinguish it from other failure kinds via
// errors.As.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// EventType mirrors the subset of Kubernetes watch event types this module
// consumes.
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"
)

// WatchEvent is one delivery from WatchPods.
type WatchEvent struct {
	Type EventType
	Pod  *corev1.Pod
}

// PodSummary is one pod as returned by ListPods.
type PodSummary struct {
	Name      string
	Namespace string
}

// ListResult is the outcome of a ListPods call: the matching pods and the
// resource version the list was taken at, used to pin the subsequent watch.
type ListResult struct {
	Pods            []PodSummary
	ResourceVersion string
}

// NodeSummary is one node's telemetry-relevant metadata.
type NodeSummary struct {
	Name           string
	Labels         map[string]string
	Architecture   string
	KernelVersion  string
	KubeletVersion string
	OSImage        string
	Taints         []corev1.Taint
}

// ExecOptions describes a command to run inside a container via the exec
// subresource.
type ExecOptions struct {
	Pod       string
	Container string
	Namespace string
	Command   []string
	Stdin     io.Reader

	// WantStdout/WantStderr tell the implementation which streams to
	// attach; the corresponding writer passed to ExecStream is ignored
	// when the flag is false.
	WantStdout bool
	WantStderr bool
}

// ClusterGateway is the contract the rest of this module needs from a
// cluster API. Implementations must be safe for concurrent use; sessions
// and worker pools call it from many goroutines at once.
type ClusterGateway interface {
	// ListPods returns the running pods (status.phase=Running) matching
	// selector (optionally restricted to namespace; empty namespace means
	// all namespaces).
	ListPods(ctx context.Context, selector, namespace string) (ListResult, error)

	// WatchPods opens a watch starting at resourceVersion and returns a
	// channel of events. The channel is closed when ctx is done, the
	// watch's timeout elapses, or the underlying watch ends.
	WatchPods(ctx context.Context, resourceVersion, selector, namespace string, timeout time.Duration) (<-chan WatchEvent, error)

	// ReadPod fetches a single pod by name.
	ReadPod(ctx context.Context, name, namespace string) (*corev1.Pod, error)

	// ExecStream runs a command inside a container, streaming stdin from
	// opts.Stdin (if non-nil) and stdout/stderr into the given writers.
	// It blocks until the remote process exits.
	ExecStream(ctx context.Context, opts ExecOptions, stdout, stderr io.Writer) error

	// ListNodes returns every node's telemetry-relevant metadata.
	ListNodes(ctx context.Context) ([]NodeSummary, error)

	// ListAllKinds returns, for each requested Kind known to the
	// cluster's discovery document, the number of live objects of that
	// kind across all namespaces.
	ListAllKinds(ctx context.Context, kinds []string) (map[string]int, error)

	// ReadCustomObject fetches a single cluster-scoped custom resource by
	// group/version/plural/name and returns its decoded JSON body.
	ReadCustomObject(ctx context.Context, group, version, plural, name string) (map[string]any, error)
}
