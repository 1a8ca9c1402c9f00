package telemetry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/config"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
)

// coreObjectKinds is the fixed set of kinds collect_cluster_metadata counts
// on every run.
var coreObjectKinds = []string{"Deployment", "Pod", "Secret", "ConfigMap", "Build", "Route"}

var nodeRolePriority = []string{"infra", "worker", "master", "workload", "application"}

// Assembler collects cluster metadata, folds in per-scenario recovery
// reports, and submits the resulting RunReport to the telemetry broker.
type Assembler struct {
	Gateway gateway.ClusterGateway
	Config  *config.Config
	Client  *http.Client
}

// New builds an Assembler bound to gw and cfg.
func New(gw gateway.ClusterGateway, cfg *config.Config) *Assembler {
	return &Assembler{Gateway: gw, Config: cfg, Client: http.DefaultClient}
}

// CollectClusterMetadata fills report's cluster-wide fields: infrastructure
// type, network plugins, live object counts, and node inventory. Discovery
// failures degrade to the "Unknown" defaults rather than failing the run.
func (a *Assembler) CollectClusterMetadata(ctx context.Context, report *RunReport) {
	if infra, err := a.readCloudInfrastructure(ctx); err == nil {
		report.CloudInfrastructure = infra
	}
	if plugins, err := a.readNetworkPlugins(ctx); err == nil && len(plugins) > 0 {
		report.NetworkPlugins = plugins
	}
	if version, err := a.readClusterVersion(ctx); err == nil {
		report.ClusterVersion = version
	}

	counts, err := a.Gateway.ListAllKinds(ctx, coreObjectKinds)
	if err == nil {
		report.KubernetesObjectsCount = counts
	}

	nodes, err := a.Gateway.ListNodes(ctx)
	if err != nil {
		return
	}
	report.TotalNodeCount = len(nodes)
	report.NodeSummaryInfos = summarizeNodes(nodes)
	report.NodeTaints = collectTaints(nodes)
}

func (a *Assembler) readCloudInfrastructure(ctx context.Context) (string, error) {
	obj, err := a.Gateway.ReadCustomObject(ctx, "config.openshift.io", "v1", "infrastructures", "cluster")
	if err != nil {
		return "Unknown", err
	}
	status, _ := obj["status"].(map[string]any)
	if platform, ok := status["platform"].(string); ok && platform != "" {
		return platform, nil
	}
	return "Unknown", nil
}

func (a *Assembler) readNetworkPlugins(ctx context.Context) ([]string, error) {
	obj, err := a.Gateway.ReadCustomObject(ctx, "config.openshift.io", "v1", "networks", "cluster")
	if err != nil {
		return nil, err
	}
	status, _ := obj["status"].(map[string]any)
	raw, ok := status["networkType"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("telemetry: no networkType in status")
	}
	return []string{raw}, nil
}

// readClusterVersion mirrors get_clusterversion_string: the "Progressing"
// condition on the singleton clusterversions/version object carries the
// human-readable version text on OpenShift; other distributions don't expose
// the object at all, in which case the read fails and CollectClusterMetadata
// leaves RunReport.ClusterVersion empty.
func (a *Assembler) readClusterVersion(ctx context.Context) (string, error) {
	obj, err := a.Gateway.ReadCustomObject(ctx, "config.openshift.io", "v1", "clusterversions", "version")
	if err != nil {
		return "", err
	}
	status, _ := obj["status"].(map[string]any)
	conditions, _ := status["conditions"].([]any)
	for _, c := range conditions {
		condition, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if condition["type"] == "Progressing" {
			if msg, ok := condition["message"].(string); ok {
				return msg, nil
			}
		}
	}
	return "", nil
}

// collectTaints flattens every node's taints into the telemetry-projected
// Taint shape, tagging each with the node it was observed on.
func collectTaints(nodes []gateway.NodeSummary) []Taint {
	var taints []Taint
	for _, n := range nodes {
		for _, t := range n.Taints {
			taints = append(taints, Taint{
				NodeName: n.Name,
				Effect:   string(t.Effect),
				Key:      t.Key,
				Value:    t.Value,
			})
		}
	}
	return taints
}

func nodeRole(labels map[string]string) string {
	for _, role := range nodeRolePriority {
		if _, ok := labels["node-role.kubernetes.io/"+role]; ok {
			return role
		}
	}
	return "unknown"
}

func instanceType(labels map[string]string) string {
	if v, ok := labels["node.kubernetes.io/instance-type"]; ok && v != "" {
		return v
	}
	return "unknown"
}

func summarizeNodes(nodes []gateway.NodeSummary) []NodeSummary {
	type key struct {
		arch, instance, role, kernel, kubelet, os string
	}
	counts := make(map[key]int)
	order := make([]key, 0, len(nodes))
	for _, n := range nodes {
		k := key{
			arch:     n.Architecture,
			instance: instanceType(n.Labels),
			role:     nodeRole(n.Labels),
			kernel:   n.KernelVersion,
			kubelet:  n.KubeletVersion,
			os:       n.OSImage,
		}
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	summaries := make([]NodeSummary, 0, len(order))
	for _, k := range order {
		summaries = append(summaries, NodeSummary{
			Count:          counts[k],
			Architecture:   k.arch,
			InstanceType:   k.instance,
			NodeType:       k.role,
			KernelVersion:  k.kernel,
			KubeletVersion: k.kubelet,
			OSVersion:      k.os,
		})
	}
	return summaries
}

// ScrubAndEncodeScenarioFile reads a scenario parameters YAML file, replaces
// every "kubeconfig" key anywhere in the document with "anonymized", and
// returns the re-serialized document as base64 — the same transform
// krkn_lib's set_parameters_base64 applies before a scenario's parameters
// are attached to the run report.
func ScrubAndEncodeScenarioFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("telemetry: reading %s: %w", path, err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("telemetry: parsing %s: %w", path, err)
	}
	scrubbed := ScrubSecrets(normalizeYAML(doc))

	out, err := yaml.Marshal(scrubbed)
	if err != nil {
		return "", fmt.Errorf("telemetry: re-encoding %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// normalizeYAML converts the map[string]interface{} and
// map[interface{}]interface{} shapes yaml.v3 may produce into map[string]any
// so scrubAttribute's type switch works uniformly.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// DecodeParameters decodes a base64-wrapped YAML document back into a Go
// value, validating that the top-level shape is a map or list (matching
// ScenarioTelemetry's constructor validation).
func DecodeParameters(parametersBase64 string) (any, error) {
	raw, err := base64.StdEncoding.DecodeString(parametersBase64)
	if err != nil {
		return nil, fmt.Errorf("telemetry: decoding parameters: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("telemetry: parsing decoded parameters: %w", err)
	}
	doc = normalizeYAML(doc)
	switch doc.(type) {
	case map[string]any, []any:
		return doc, nil
	default:
		return nil, fmt.Errorf("telemetry: decoded parameters are neither a map nor a list")
	}
}

// Submit posts report as JSON to "{api_url}/telemetry", basic-authed and
// carrying "request_id={run_uuid}" and "telemetry_group={group}" query
// parameters, matching send_telemetry. It returns the raw JSON that was
// posted so the caller can archive it locally alongside the run.
func (a *Assembler) Submit(ctx context.Context, report *RunReport) ([]byte, error) {
	if a.Config.APIURL == "" || a.Config.Username == "" || a.Config.Password == "" {
		return nil, fmt.Errorf("telemetry: api_url, username and password are required to submit a run report")
	}

	body, err := json.MarshalIndent(report, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("telemetry: encoding run report: %w", err)
	}

	endpoint := strings.TrimRight(a.Config.APIURL, "/") + "/telemetry"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(a.Config.Username, a.Config.Password)

	q := url.Values{}
	q.Set("request_id", report.RunUUID)
	q.Set("telemetry_group", a.Config.TelemetryGroup)
	req.URL.RawQuery = q.Encode()

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telemetry: submitting run report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("telemetry: broker returned status %d: %s", resp.StatusCode, respBody)
	}
	return body, nil
}
