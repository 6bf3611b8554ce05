// Package status normalizes the status shapes of Cluster API resources into a
// single abstract state consumed by the driver state machine and the health monitor.
package status

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/dc-tec/capi-helm-driver/internal/constants"
)

// State is the abstract state of a polled resource.
type State string

const (
	StateReady      State = "READY"
	StatePending    State = "PENDING"
	StateFailed     State = "FAILED"
	StateNotPresent State = "NOT_PRESENT"
)

// Result is the outcome of resolving one resource.
type Result struct {
	State State
	// Unmet lists the condition types that were not True, in observed order.
	Unmet []string
	// Reason is a human-readable explanation when State is not Ready.
	Reason string
}

// Ready reports whether the resource resolved to StateReady.
func (r Result) Ready() bool {
	return r.State == StateReady
}

// FormatConditionTypes renders condition types as "['A', 'B']".
func FormatConditionTypes(types []string) string {
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = "'" + t + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// UnmetConditions returns the types of every status.conditions entry whose
// status is not "True", preserving the order in which they appear.
func UnmetConditions(obj *unstructured.Unstructured) []string {
	if obj == nil {
		return nil
	}
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	var unmet []string
	for _, raw := range conditions {
		condition, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := condition["status"].(string); s != constants.ConditionStatusTrue {
			t, _ := condition["type"].(string)
			unmet = append(unmet, t)
		}
	}
	return unmet
}

// IsConditionTrue reports whether the named condition is present with status "True".
func IsConditionTrue(obj *unstructured.Unstructured, conditionType string) bool {
	if obj == nil {
		return false
	}
	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, raw := range conditions {
		condition, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := condition["type"].(string); t == conditionType {
			s, _ := condition["status"].(string)
			return s == constants.ConditionStatusTrue
		}
	}
	return false
}

// ResolveConditions resolves a condition-list resource such as a Cluster.
// The resource is ready iff every condition is True.
func ResolveConditions(obj *unstructured.Unstructured) Result {
	if obj == nil {
		return Result{State: StateNotPresent}
	}
	unmet := UnmetConditions(obj)
	if len(unmet) > 0 {
		return Result{
			State:  StatePending,
			Unmet:  unmet,
			Reason: "Waiting on " + FormatConditionTypes(unmet),
		}
	}
	return Result{State: StateReady}
}

// ResolveControlPlane resolves a KubeadmControlPlane. On top of the condition
// check, status.replicas, spec.replicas, status.updatedReplicas and
// status.readyReplicas must all agree.
func ResolveControlPlane(obj *unstructured.Unstructured) Result {
	result := ResolveConditions(obj)
	if result.State != StateReady {
		return result
	}

	desired, _, _ := unstructured.NestedInt64(obj.Object, "spec", "replicas")
	replicas, _, _ := unstructured.NestedInt64(obj.Object, "status", "replicas")
	updated, _, _ := unstructured.NestedInt64(obj.Object, "status", "updatedReplicas")
	ready, _, _ := unstructured.NestedInt64(obj.Object, "status", "readyReplicas")

	if replicas != desired || updated != desired || ready != desired {
		reason := fmt.Sprintf("Waiting on replicas (desired %d, current %d, updated %d, ready %d)",
			desired, replicas, updated, ready)
		return Result{State: StatePending, Reason: reason}
	}
	return result
}

// ResolveMachineDeployment resolves a worker MachineDeployment from its phase.
func ResolveMachineDeployment(obj *unstructured.Unstructured) Result {
	if obj == nil {
		return Result{State: StateNotPresent}
	}
	phase, _, _ := unstructured.NestedString(obj.Object, "status", "phase")
	switch phase {
	case constants.PhaseRunning:
		return Result{State: StateReady}
	case constants.PhaseFailed:
		return Result{State: StateFailed, Reason: "Machine deployment failed"}
	default:
		return Result{State: StatePending, Reason: fmt.Sprintf("Machine deployment phase %q", phase)}
	}
}

// ResolveInfrastructure resolves an OpenStackCluster. A failure reason always
// wins over the ready flag.
func ResolveInfrastructure(obj *unstructured.Unstructured) Result {
	if obj == nil {
		return Result{State: StateNotPresent, Reason: constants.HealthReasonInfraNotFound}
	}
	failureReason, _, _ := unstructured.NestedString(obj.Object, "status", "failureReason")
	if failureReason != "" {
		failureMessage, _, _ := unstructured.NestedString(obj.Object, "status", "failureMessage")
		return Result{State: StateFailed, Reason: failureReason + ": " + failureMessage}
	}
	ready, _, _ := unstructured.NestedBool(obj.Object, "status", "ready")
	if !ready {
		return Result{State: StatePending, Reason: constants.HealthReasonInfrastructureNotReady}
	}
	return Result{State: StateReady}
}

// ResolveAddons folds the phases of every addon resource into one state.
// Any Failed addon fails the set; any addon with a missing, Unknown or
// in-flight phase keeps the set pending.
func ResolveAddons(addons []unstructured.Unstructured) Result {
	var pending []string
	for i := range addons {
		phase, _, _ := unstructured.NestedString(addons[i].Object, "status", "phase")
		switch phase {
		case constants.AddonPhaseFailed:
			return Result{State: StateFailed, Reason: fmt.Sprintf("Addon %s failed", addons[i].GetName())}
		case constants.AddonPhaseDeployed:
		default:
			pending = append(pending, addons[i].GetName())
		}
	}
	if len(pending) > 0 {
		return Result{
			State:  StatePending,
			Unmet:  pending,
			Reason: "Waiting on addons " + FormatConditionTypes(pending),
		}
	}
	return Result{State: StateReady}
}

// ControlPlaneEndpoint returns spec.controlPlaneEndpoint of a Cluster when both host and port are set.
func ControlPlaneEndpoint(obj *unstructured.Unstructured) (string, int64, bool) {
	if obj == nil {
		return "", 0, false
	}
	host, _, _ := unstructured.NestedString(obj.Object, "spec", "controlPlaneEndpoint", "host")
	port, _, _ := unstructured.NestedInt64(obj.Object, "spec", "controlPlaneEndpoint", "port")
	if host == "" || port == 0 {
		return "", 0, false
	}
	return host, port, true
}
