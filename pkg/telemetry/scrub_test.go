package telemetry

import "testing"

func TestScrubAttributeReplacesNestedKeys(t *testing.T) {
	obj := map[string]any{
		"name": "scenario-a",
		"spec": map[string]any{
			"kubeconfig": "super-secret",
			"targets": []any{
				map[string]any{"kubeconfig": "also-secret", "namespace": "default"},
			},
		},
	}

	result := scrubAttribute("kubeconfig", "anonymized", obj)
	m := result.(map[string]any)
	spec := m["spec"].(map[string]any)
	if spec["kubeconfig"] != "anonymized" {
		t.Errorf("expected spec kubeconfig scrubbed, got %v", spec["kubeconfig"])
	}
	targets := spec["targets"].([]any)
	target0 := targets[0].(map[string]any)
	if target0["kubeconfig"] != "anonymized" {
		t.Errorf("expected nested kubeconfig scrubbed, got %v", target0["kubeconfig"])
	}
	if target0["namespace"] != "default" {
		t.Errorf("expected unrelated key untouched, got %v", target0["namespace"])
	}
}

func TestScrubAttributeLeavesUnrelatedDataAlone(t *testing.T) {
	obj := []any{"a", "b", map[string]any{"foo": "bar"}}
	result := scrubAttribute("kubeconfig", "anonymized", obj)
	list := result.([]any)
	if list[0] != "a" || list[1] != "b" {
		t.Errorf("expected scalars untouched, got %+v", list)
	}
	m := list[2].(map[string]any)
	if m["foo"] != "bar" {
		t.Errorf("expected unrelated map untouched, got %+v", m)
	}
}
