package podmonitor

// Reduce computes the RecoveryReport for this session's snapshot, whether
// the watch ran to completion, hit its deadline, or was cancelled early.
func (s *Session) Reduce() RecoveryReport {
	if s.err != nil {
		return RecoveryReport{Error: s.err}
	}
	return s.snapshot.reduce()
}

func (snap *PodsSnapshot) reduce() RecoveryReport {
	var report RecoveryReport
	for _, name := range snap.InitialPods {
		pod := snap.Pods[name]
		if pod == nil {
			continue
		}
		v, matched := reducePod(snap, pod)
		if !matched {
			continue
		}
		if v.recovered {
			report.Recovered = append(report.Recovered, v.pod)
		} else {
			report.Unrecovered = append(report.Unrecovered, v.pod)
		}
	}
	return report
}

type verdict struct {
	pod       AffectedPod
	recovered bool
}

// reducePod scans one pod's event log in order and decides its verdict from
// the first NOT_READY or DELETION_SCHEDULED event it finds; once one of those
// is matched, only a READY recorded after a NOT_READY counts as recovery.
func reducePod(snap *PodsSnapshot, pod *MonitoredPod) (verdict, bool) {
	for i, change := range pod.StatusChanges {
		switch change.Status {
		case StatusNotReady:
			ready, ok := firstEventOfStatus(pod.StatusChanges[i+1:], StatusReady)
			if !ok {
				return verdict{pod: AffectedPod{PodName: pod.Name, Namespace: pod.Namespace}}, true
			}
			readiness := ready.Timestamp() - change.Timestamp()
			return verdict{
				pod: AffectedPod{
					PodName:          pod.Name,
					Namespace:        pod.Namespace,
					PodReadinessTime: ptr(readiness),
				},
				recovered: true,
			}, true

		case StatusDeletionScheduled:
			return reduceDeletionScheduled(snap, pod, change)
		}
	}
	return verdict{}, false
}

func firstEventOfStatus(changes []PodEvent, status PodStatus) (PodEvent, bool) {
	for _, e := range changes {
		if e.Status == status {
			return e, true
		}
	}
	return PodEvent{}, false
}

func reduceDeletionScheduled(snap *PodsSnapshot, parent *MonitoredPod, deletion PodEvent) (verdict, bool) {
	successor := findSuccessor(snap, parent, deletion)
	if successor == nil {
		return verdict{pod: AffectedPod{PodName: parent.Name, Namespace: parent.Namespace}}, true
	}

	// Use the events strictly after deletion, not the pod's first-ever event
	// of that status: when successor is parent itself (same-name
	// replacement), its StatusChanges also carries the original pre-deletion
	// ADDED/READY events, which firstEventOfStatus would match instead.
	readyEvt, hasReady := firstEventOfStatusAfter(successor.StatusChanges, StatusReady, deletion.Timestamp())
	if !hasReady {
		return verdict{pod: AffectedPod{PodName: successor.Name, Namespace: successor.Namespace}}, true
	}

	result := AffectedPod{PodName: successor.Name, Namespace: successor.Namespace}
	var rescheduling *float64
	if addedEvt, hasAdded := firstEventOfStatusAfter(successor.StatusChanges, StatusAdded, deletion.Timestamp()); hasAdded {
		r := addedEvt.Timestamp() - deletion.Timestamp()
		rescheduling = ptr(r)
		result.PodReschedulingTime = rescheduling
	}

	readiness := readyEvt.Timestamp() - deletion.Timestamp()
	result.PodReadinessTime = ptr(readiness)

	if rescheduling != nil {
		total := *rescheduling + readiness
		result.TotalRecoveryTime = ptr(total)
	}

	return verdict{pod: result, recovered: true}, true
}

// findSuccessor locates the MonitoredPod that replaced parent after an
// observed deletion: prefer an explicit Parent tag on an ADDED event (never
// populated by this module's own watch loop, same as upstream); otherwise
// fall back to the earliest ADDED pod in the same namespace observed after
// the deletion event. A pod redeployed under its own name is its own
// successor, so candidates are not excluded by name — only by whether their
// earliest post-deletion ADDED event exists.
func findSuccessor(snap *PodsSnapshot, parent *MonitoredPod, deletion PodEvent) *MonitoredPod {
	for _, name := range snap.AddedPods {
		candidate := snap.Pods[name]
		if candidate == nil {
			continue
		}
		for _, e := range candidate.StatusChanges {
			if e.Status == StatusAdded && e.Parent == parent.Name {
				return candidate
			}
		}
	}

	var best *MonitoredPod
	var bestTS float64
	for _, name := range snap.AddedPods {
		candidate := snap.Pods[name]
		if candidate == nil || candidate.Namespace != parent.Namespace {
			continue
		}
		added, ok := firstEventOfStatusAfter(candidate.StatusChanges, StatusAdded, deletion.Timestamp())
		if !ok {
			continue
		}
		if best == nil || added.Timestamp() < bestTS {
			best = candidate
			bestTS = added.Timestamp()
		}
	}
	return best
}

// firstEventOfStatusAfter returns the earliest event of the given status
// whose timestamp is strictly later than after, distinguishing a pod's
// original ADDED event from the ADDED event of its same-name replacement.
func firstEventOfStatusAfter(changes []PodEvent, status PodStatus, after float64) (PodEvent, bool) {
	for _, e := range changes {
		if e.Status == status && e.Timestamp() > after {
			return e, true
		}
	}
	return PodEvent{}, false
}

func ptr(f float64) *float64 { return &f }
