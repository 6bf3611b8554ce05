package constants

// Condition types and phases read from Cluster API and addon resources.
const (
	ConditionReady = "Ready"

	// ConditionStatusTrue is the only condition status treated as satisfied.
	ConditionStatusTrue = "True"

	PhaseRunning = "Running"
	PhaseFailed  = "Failed"

	AddonPhaseDeployed = "Deployed"
	AddonPhaseFailed   = "Failed"
	AddonPhaseUnknown  = "Unknown"
)

// Health reason strings reported by the health monitor.
const (
	HealthReasonReady                  = "Ready"
	HealthReasonClusterNotFound        = "Cluster resource not found."
	HealthReasonInfraNotFound          = "Infrastructure resource not found."
	HealthReasonControlPlaneNotFound   = "Control plane resource not found."
	HealthReasonInfrastructureNotReady = "Infrastructure not ready."
)

// Error reasons used as low-cardinality metric labels.
const (
	ReasonKubernetesAPIError = "KubernetesAPIError"
	ReasonConfigError        = "ConfigError"
	ReasonHelmError          = "HelmError"
	ReasonOpenStackError     = "OpenStackError"
	ReasonUnknown            = "Unknown"
)
