package constants

// Label keys applied by the driver to every Kubernetes object it creates for a cluster.
const (
	LabelProjectID   = "magnum.openstack.org/project-id"
	LabelUserID      = "magnum.openstack.org/user-id"
	LabelClusterUUID = "magnum.openstack.org/cluster-uuid"

	LabelAppManagedBy = "app.kubernetes.io/managed-by"
	LabelAppComponent = "app.kubernetes.io/component"
)

// Label keys set by the chart on resources owned by a release.
const (
	// LabelAddonCluster selects every addon resource belonging to a release.
	LabelAddonCluster = "addons.stackhpc.com/cluster"
)

// Common label values used by the driver.
const (
	LabelValueManagedByDriver = "capi-helm-driver"
	LabelValueComponentState  = "cluster-state"
)
