// Package telemetry assembles a RunReport describing one chaos run: cluster
// metadata, per-scenario recovery outcomes, and node inventory, then scrubs
// and posts it to the telemetry broker. It mirrors krkn_lib's
// ChaosRunTelemetry/ScenarioTelemetry models and send_telemetry flow.
package telemetry

import (
	"fmt"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/podmonitor"
)

// Taint is one node taint observed at collection time.
type Taint struct {
	NodeName string `json:"node_name"`
	Effect   string `json:"effect"`
	Key      string `json:"key"`
	Value    string `json:"value"`
}

// NodeSummary aggregates the nodes sharing one (architecture, instance
// type, node role, kernel, kubelet, OS) tuple, with a count of how many
// nodes share it.
type NodeSummary struct {
	Count          int    `json:"count"`
	Architecture   string `json:"architecture"`
	InstanceType   string `json:"instance_type"`
	NodeType       string `json:"node_type"`
	KernelVersion  string `json:"kernel_version"`
	KubeletVersion string `json:"kubelet_version"`
	OSVersion      string `json:"os_version"`
}

// AffectedPod is the JSON-serializable projection of a podmonitor.AffectedPod.
type AffectedPod struct {
	PodName             string   `json:"pod_name"`
	Namespace            string   `json:"namespace"`
	PodReschedulingTime *float64 `json:"pod_rescheduling_time,omitempty"`
	PodReadinessTime    *float64 `json:"pod_readiness_time,omitempty"`
	TotalRecoveryTime   *float64 `json:"total_recovery_time,omitempty"`
}

// PodsStatus is the JSON-serializable projection of a podmonitor.RecoveryReport.
type PodsStatus struct {
	Recovered   []AffectedPod `json:"recovered"`
	Unrecovered []AffectedPod `json:"unrecovered"`
	Error       string        `json:"error,omitempty"`
}

// FromRecoveryReport projects a podmonitor.RecoveryReport into its
// serializable form, collapsing any session error to its message.
func FromRecoveryReport(r podmonitor.RecoveryReport) PodsStatus {
	status := PodsStatus{}
	for _, p := range r.Recovered {
		status.Recovered = append(status.Recovered, AffectedPod{
			PodName:             p.PodName,
			Namespace:           p.Namespace,
			PodReschedulingTime: p.PodReschedulingTime,
			PodReadinessTime:    p.PodReadinessTime,
			TotalRecoveryTime:   p.TotalRecoveryTime,
		})
	}
	for _, p := range r.Unrecovered {
		status.Unrecovered = append(status.Unrecovered, AffectedPod{PodName: p.PodName, Namespace: p.Namespace})
	}
	if r.Error != nil {
		status.Error = r.Error.Error()
	}
	return status
}

// ScenarioRecord is one scenario's contribution to a RunReport.
type ScenarioRecord struct {
	StartTimestamp   float64    `json:"start_timestamp"`
	EndTimestamp     float64    `json:"end_timestamp"`
	Scenario         string     `json:"scenario"`
	ExitStatus       int        `json:"exit_status"`
	ParametersBase64 string     `json:"parameters_base64,omitempty"`
	Parameters       any        `json:"parameters,omitempty"`
	AffectedPods     PodsStatus `json:"affected_pods"`
}

// ParseParameters decodes ParametersBase64 (if set) into Parameters via
// DecodeParameters and clears ParametersBase64, matching ScenarioTelemetry's
// constructor: a scenario record never carries both the encoded and decoded
// form at once.
func (s *ScenarioRecord) ParseParameters() error {
	if s.ParametersBase64 == "" {
		return nil
	}
	params, err := DecodeParameters(s.ParametersBase64)
	if err != nil {
		return fmt.Errorf("telemetry: parsing scenario %s parameters: %w", s.Scenario, err)
	}
	s.Parameters = params
	s.ParametersBase64 = ""
	return nil
}

// RunReport is the full telemetry payload for one chaos run.
type RunReport struct {
	Scenarios              []ScenarioRecord `json:"scenarios"`
	NodeSummaryInfos       []NodeSummary    `json:"node_summary_infos"`
	NodeTaints             []Taint          `json:"node_taints"`
	KubernetesObjectsCount map[string]int   `json:"kubernetes_objects_count"`
	NetworkPlugins         []string         `json:"network_plugins"`
	TotalNodeCount         int              `json:"total_node_count"`
	CloudInfrastructure    string           `json:"cloud_infrastructure"`
	CloudType              string           `json:"cloud_type"`
	ClusterVersion         string           `json:"cluster_version,omitempty"`
	RunUUID                string           `json:"run_uuid"`
	Timestamp              string           `json:"timestamp"`
}

// NewRunReport builds an empty RunReport with the same defaults the original
// ChaosRunTelemetry dataclass applies.
func NewRunReport(runUUID, timestamp string) *RunReport {
	return &RunReport{
		NetworkPlugins:      []string{"Unknown"},
		CloudInfrastructure: "Unknown",
		CloudType:           "self-managed",
		RunUUID:             runUUID,
		Timestamp:           timestamp,
	}
}
