package logging

import (
	"maps"
	"slices"

	"github.com/go-logr/logr"
)

// Audit event types emitted by the driver.
const (
	EventReleaseIDGenerated = "ReleaseIDGenerated"
	EventNodeGroupDestroyed = "NodeGroupDestroyed"
	EventClusterDeleted     = "ClusterDeleted"
	EventClusterPruned      = "ClusterRecordPruned"
)

// LogAuditEvent logs a structured audit event for driver actions that change
// tenant-visible records or delete cloud resources. Audit events are tagged
// with "audit=true" for easy filtering in log aggregation systems. Fields are
// emitted in key order.
func LogAuditEvent(logger logr.Logger, eventType string, fields map[string]string) {
	kvs := make([]any, 0, 4+2*len(fields))
	kvs = append(kvs, "audit", "true", "event_type", eventType)
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		kvs = append(kvs, key, fields[key])
	}
	logger.WithValues(kvs...).Info("Driver audit event")
}
