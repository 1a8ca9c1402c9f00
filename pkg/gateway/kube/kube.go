// Package kube implements gateway.ClusterGateway against a real cluster
// using client-go, adapting the exec/list/watch idioms from the teacher's
// pkg/cli/rsync and pkg/cli/observe packages to the narrower ClusterGateway
// contract.
package kube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/klog/v2"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
)

// Gateway is a client-go-backed gateway.ClusterGateway.
type Gateway struct {
	Clientset kubernetes.Interface
	Config    *rest.Config
}

// New builds a Gateway from an already-constructed clientset and its
// matching rest.Config (the latter is needed to build the SPDY executor for
// exec streams).
func New(config *rest.Config, clientset kubernetes.Interface) *Gateway {
	return &Gateway{Clientset: clientset, Config: config}
}

func (g *Gateway) podsClient(namespace string) interface {
	List(ctx context.Context, opts metav1.ListOptions) (*corev1.PodList, error)
	Watch(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)
	Get(ctx context.Context, name string, opts metav1.GetOptions) (*corev1.Pod, error)
} {
	if namespace == "" {
		return g.Clientset.CoreV1().Pods(metav1.NamespaceAll)
	}
	return g.Clientset.CoreV1().Pods(namespace)
}

func (g *Gateway) ListPods(ctx context.Context, selector, namespace string) (gateway.ListResult, error) {
	list, err := g.podsClient(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
		FieldSelector: "status.phase=Running",
	})
	if err != nil {
		return gateway.ListResult{}, &gateway.TransportError{Op: "list pods", Err: err}
	}
	result := gateway.ListResult{ResourceVersion: list.ResourceVersion}
	for _, pod := range list.Items {
		result.Pods = append(result.Pods, gateway.PodSummary{Name: pod.Name, Namespace: pod.Namespace})
	}
	return result, nil
}

func (g *Gateway) WatchPods(ctx context.Context, resourceVersion, selector, namespace string, timeout time.Duration) (<-chan gateway.WatchEvent, error) {
	seconds := int64(timeout.Seconds())
	opts := metav1.ListOptions{
		LabelSelector:   selector,
		ResourceVersion: resourceVersion,
	}
	if seconds > 0 {
		opts.TimeoutSeconds = &seconds
	}

	w, err := g.podsClient(namespace).Watch(ctx, opts)
	if err != nil {
		return nil, &gateway.TransportError{Op: "watch pods", Err: err}
	}

	out := make(chan gateway.WatchEvent)
	go func() {
		defer close(out)
		defer w.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.ResultChan():
				if !ok {
					return
				}
				pod, ok := evt.Object.(*corev1.Pod)
				if !ok {
					continue
				}
				var t gateway.EventType
				switch evt.Type {
				case watch.Added:
					t = gateway.Added
				case watch.Modified:
					t = gateway.Modified
				case watch.Deleted:
					t = gateway.Deleted
				default:
					continue
				}
				select {
				case out <- gateway.WatchEvent{Type: t, Pod: pod}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (g *Gateway) ReadPod(ctx context.Context, name, namespace string) (*corev1.Pod, error) {
	pod, err := g.podsClient(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, &gateway.TransportError{Op: fmt.Sprintf("read pod %s/%s", namespace, name), Err: err}
	}
	return pod, nil
}

func (g *Gateway) ExecStream(ctx context.Context, opts gateway.ExecOptions, stdout, stderr io.Writer) error {
	req := g.Clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(opts.Pod).
		Namespace(opts.Namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: opts.Container,
		Command:   opts.Command,
		Stdin:     opts.Stdin != nil,
		Stdout:    opts.WantStdout,
		Stderr:    opts.WantStderr,
		TTY:       false,
	}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(g.Config, "POST", req.URL())
	if err != nil {
		return &gateway.TransportError{Op: "building exec executor", Err: err}
	}

	streamOpts := remotecommand.StreamOptions{Stdin: opts.Stdin}
	if opts.WantStdout {
		streamOpts.Stdout = stdout
	}
	if opts.WantStderr {
		streamOpts.Stderr = stderr
	}

	if err := executor.StreamWithContext(ctx, streamOpts); err != nil {
		return &gateway.TransportError{Op: fmt.Sprintf("exec %v in pod %s/%s", opts.Command, opts.Namespace, opts.Pod), Err: err}
	}
	return nil
}

func (g *Gateway) ListNodes(ctx context.Context) ([]gateway.NodeSummary, error) {
	list, err := g.Clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, &gateway.TransportError{Op: "list nodes", Err: err}
	}
	summaries := make([]gateway.NodeSummary, 0, len(list.Items))
	for _, n := range list.Items {
		summaries = append(summaries, gateway.NodeSummary{
			Name:           n.Name,
			Labels:         n.Labels,
			Architecture:   n.Status.NodeInfo.Architecture,
			KernelVersion:  n.Status.NodeInfo.KernelVersion,
			KubeletVersion: n.Status.NodeInfo.KubeletVersion,
			OSImage:        n.Status.NodeInfo.OSImage,
			Taints:         n.Spec.Taints,
		})
	}
	return summaries, nil
}

// ListAllKinds walks the discovery document once, counting live objects for
// every requested Kind via a raw GET against the matching group/version
// collection endpoint (the same "list without a namespace segment spans
// every namespace" trick the original krkn_lib relies on).
func (g *Gateway) ListAllKinds(ctx context.Context, kinds []string) (map[string]int, error) {
	wanted := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}
	result := make(map[string]int)

	apiResourceLists, err := g.Clientset.Discovery().ServerPreferredResources()
	if err != nil && len(apiResourceLists) == 0 {
		return nil, &gateway.TransportError{Op: "discovering api resources", Err: err}
	}

	for _, rl := range apiResourceLists {
		gv, parseErr := schema.ParseGroupVersion(rl.GroupVersion)
		if parseErr != nil {
			continue
		}
		for _, res := range rl.APIResources {
			if !wanted[res.Kind] {
				continue
			}
			if _, counted := result[res.Kind]; counted {
				continue
			}
			count, countErr := g.countResource(ctx, gv, res)
			if countErr != nil {
				klog.V(4).Infof("gateway: counting %s: %v", res.Kind, countErr)
				continue
			}
			result[res.Kind] = count
		}
	}
	return result, nil
}

func (g *Gateway) countResource(ctx context.Context, gv schema.GroupVersion, res metav1.APIResource) (int, error) {
	path := fmt.Sprintf("/apis/%s/%s/%s", gv.Group, gv.Version, res.Name)
	if gv.Group == "" {
		path = fmt.Sprintf("/api/%s/%s", gv.Version, res.Name)
	}
	body, err := g.Clientset.CoreV1().RESTClient().Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		return 0, &gateway.TransportError{Op: fmt.Sprintf("counting %s", res.Name), Err: err}
	}
	var list struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return 0, err
	}
	return len(list.Items), nil
}

func (g *Gateway) ReadCustomObject(ctx context.Context, group, version, plural, name string) (map[string]any, error) {
	path := fmt.Sprintf("/apis/%s/%s/%s/%s", group, version, plural, name)
	body, err := g.Clientset.CoreV1().RESTClient().Get().AbsPath(path).DoRaw(ctx)
	if err != nil {
		return nil, &gateway.TransportError{Op: fmt.Sprintf("reading custom object %s", path), Err: err}
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("gateway: decoding custom object %s: %w", path, err)
	}
	return obj, nil
}
