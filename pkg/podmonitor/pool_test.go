package podmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
)

func TestPoolMergesIndependentSessions(t *testing.T) {
	gwA := newFakeGateway(gateway.PodSummary{Name: "a-1", Namespace: "ns"})
	gwB := newFakeGateway(gateway.PodSummary{Name: "b-1", Namespace: "ns"})

	poolA := NewPool(gwA, nil)
	poolA.AddByLabel(context.Background(), "app=a", time.Minute)
	gwA.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: notReadyPod("a-1", "ns")}
	gwA.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: readyPod("a-1", "ns")}

	poolB := NewPool(gwB, nil)
	poolB.AddByLabel(context.Background(), "app=b", time.Minute)
	gwB.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: notReadyPod("b-1", "ns")}
	time.Sleep(10 * time.Millisecond)
	poolB.Cancel()

	reportA := poolA.Join()
	if reportA.Error != nil || len(reportA.Recovered) != 1 {
		t.Fatalf("unexpected report A: %+v", reportA)
	}

	reportB := poolB.Join()
	if reportB.Error != nil || len(reportB.Unrecovered) != 1 {
		t.Fatalf("unexpected report B: %+v", reportB)
	}
}

func TestPoolAggregatesSelectionErrors(t *testing.T) {
	gw := newFakeGateway()
	gw.ListErr = errWatch

	pool := NewPool(gw, nil)
	pool.AddByLabel(context.Background(), "app=x", time.Minute)

	report := pool.Join()
	if report.Error == nil {
		t.Fatal("expected aggregate error from failed selection")
	}
}
