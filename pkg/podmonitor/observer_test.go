package podmonitor

import (
	"context"
	"testing"
	"time"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
)

func TestSessionRecoversAfterNotReadyThenReady(t *testing.T) {
	gw := newFakeGateway(gateway.PodSummary{Name: "web-1", Namespace: "ns"})
	session, err := SelectByLabel(context.Background(), gw, nil, "app=web", time.Minute)
	if err != nil {
		t.Fatalf("SelectByLabel: %v", err)
	}

	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: notReadyPod("web-1", "ns")}
	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: readyPod("web-1", "ns")}

	snapshot := session.Await()
	if snapshot == nil {
		t.Fatal("expected snapshot")
	}

	report := session.Reduce()
	if report.Error != nil {
		t.Fatalf("unexpected error: %v", report.Error)
	}
	if len(report.Recovered) != 1 {
		t.Fatalf("expected 1 recovered pod, got %+v", report)
	}
	if report.Recovered[0].PodReadinessTime == nil {
		t.Fatal("expected PodReadinessTime to be set")
	}
}

func TestSessionUnrecoveredWhenNeverReady(t *testing.T) {
	gw := newFakeGateway(gateway.PodSummary{Name: "web-1", Namespace: "ns"}, gateway.PodSummary{Name: "web-2", Namespace: "ns"})
	session, err := SelectByLabel(context.Background(), gw, nil, "app=web", time.Minute)
	if err != nil {
		t.Fatalf("SelectByLabel: %v", err)
	}

	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: notReadyPod("web-1", "ns")}
	time.Sleep(10 * time.Millisecond)
	session.Cancel()

	session.Await()
	report := session.Reduce()
	if len(report.Unrecovered) != 1 || report.Unrecovered[0].PodName != "web-1" {
		t.Fatalf("expected web-1 unrecovered, got %+v", report)
	}
}

func TestSessionRecoversAfterDeletionAndSuccessor(t *testing.T) {
	gw := newFakeGateway(gateway.PodSummary{Name: "db-1", Namespace: "ns"})
	session, err := SelectByLabel(context.Background(), gw, nil, "app=db", time.Minute)
	if err != nil {
		t.Fatalf("SelectByLabel: %v", err)
	}

	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: terminatingPod("db-1", "ns")}
	gw.Events <- gateway.WatchEvent{Type: gateway.Added, Pod: addedPod("db-2", "ns")}
	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: readyPod("db-2", "ns")}

	session.Await()
	report := session.Reduce()
	if len(report.Recovered) != 1 {
		t.Fatalf("expected 1 recovered pod, got %+v", report)
	}
	r := report.Recovered[0]
	if r.PodName != "db-2" {
		t.Errorf("expected successor db-2, got %s", r.PodName)
	}
	if r.PodReschedulingTime == nil || r.PodReadinessTime == nil || r.TotalRecoveryTime == nil {
		t.Fatalf("expected all timing fields set, got %+v", r)
	}
}

func TestSessionRecoversAfterDeletionAndSameNameSuccessor(t *testing.T) {
	gw := newFakeGateway(gateway.PodSummary{Name: "p1", Namespace: "ns"})
	session, err := SelectByLabel(context.Background(), gw, nil, "app=db", time.Minute)
	if err != nil {
		t.Fatalf("SelectByLabel: %v", err)
	}

	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: terminatingPod("p1", "ns")}
	gw.Events <- gateway.WatchEvent{Type: gateway.Added, Pod: addedPod("p1", "ns")}
	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: readyPod("p1", "ns")}

	session.Await()
	report := session.Reduce()
	if len(report.Recovered) != 1 {
		t.Fatalf("expected 1 recovered pod, got %+v", report)
	}
	r := report.Recovered[0]
	if r.PodName != "p1" {
		t.Errorf("expected same-name successor p1, got %s", r.PodName)
	}
	if r.PodReadinessTime == nil || *r.PodReadinessTime <= 0 {
		t.Fatalf("expected positive PodReadinessTime, got %+v", r)
	}
	if r.PodReschedulingTime == nil || *r.PodReschedulingTime < 0 {
		t.Fatalf("expected non-negative PodReschedulingTime, got %+v", r)
	}
	if r.TotalRecoveryTime == nil || *r.TotalRecoveryTime <= 0 {
		t.Fatalf("expected positive TotalRecoveryTime, got %+v", r)
	}
}

func TestSessionStopsEarlyOnceAllInitialPodsRestored(t *testing.T) {
	gw := newFakeGateway(gateway.PodSummary{Name: "web-1", Namespace: "ns"})
	session, err := SelectByLabel(context.Background(), gw, nil, "app=web", time.Hour)
	if err != nil {
		t.Fatalf("SelectByLabel: %v", err)
	}

	gw.Events <- gateway.WatchEvent{Type: gateway.Modified, Pod: readyPod("web-1", "ns")}

	select {
	case <-session.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop early after restoration")
	}
}

func TestSessionPropagatesWatchError(t *testing.T) {
	gw := newFakeGateway(gateway.PodSummary{Name: "web-1", Namespace: "ns"})
	gw.WatchErr = errWatch

	session, err := SelectByLabel(context.Background(), gw, nil, "app=web", time.Minute)
	if err != nil {
		t.Fatalf("SelectByLabel: %v", err)
	}
	session.Await()
	report := session.Reduce()
	if report.Error == nil {
		t.Fatal("expected report error on watch failure")
	}
}

var errWatch = &SelectionError{Reason: "boom"}
