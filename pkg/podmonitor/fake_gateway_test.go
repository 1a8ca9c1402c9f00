package podmonitor

import (
	"context"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
)

// fakeGateway is a minimal in-memory gateway.ClusterGateway used to drive
// Session/Pool without a real cluster. Tests push events onto Events and
// close it when the scripted watch should end.
type fakeGateway struct {
	InitialPods []gateway.PodSummary
	Events      chan gateway.WatchEvent
	ListErr     error
	WatchErr    error
}

func newFakeGateway(pods ...gateway.PodSummary) *fakeGateway {
	return &fakeGateway{InitialPods: pods, Events: make(chan gateway.WatchEvent, 16)}
}

func (f *fakeGateway) ListPods(ctx context.Context, selector, namespace string) (gateway.ListResult, error) {
	if f.ListErr != nil {
		return gateway.ListResult{}, f.ListErr
	}
	return gateway.ListResult{Pods: f.InitialPods, ResourceVersion: "1"}, nil
}

func (f *fakeGateway) WatchPods(ctx context.Context, resourceVersion, selector, namespace string, timeout time.Duration) (<-chan gateway.WatchEvent, error) {
	if f.WatchErr != nil {
		return nil, f.WatchErr
	}
	out := make(chan gateway.WatchEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-f.Events:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeGateway) ReadPod(ctx context.Context, name, namespace string) (*corev1.Pod, error) {
	return nil, nil
}

func (f *fakeGateway) ExecStream(ctx context.Context, opts gateway.ExecOptions, stdout, stderr io.Writer) error {
	return nil
}

func (f *fakeGateway) ListNodes(ctx context.Context) ([]gateway.NodeSummary, error) { return nil, nil }

func (f *fakeGateway) ListAllKinds(ctx context.Context, kinds []string) (map[string]int, error) {
	return nil, nil
}

func (f *fakeGateway) ReadCustomObject(ctx context.Context, group, version, plural, name string) (map[string]any, error) {
	return nil, nil
}

func readyPod(name, namespace string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metaObj(name, namespace),
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{Ready: true}},
		},
	}
}

func notReadyPod(name, namespace string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metaObj(name, namespace),
		Status: corev1.PodStatus{
			ContainerStatuses: []corev1.ContainerStatus{{Ready: false}},
		},
	}
}
