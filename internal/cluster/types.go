// Package cluster holds the tenant-visible cluster and nodegroup records the
// driver reads and mutates on every pass.
package cluster

// Status is the lifecycle status shared by clusters and nodegroups.
type Status string

const (
	StatusCreateInProgress   Status = "CREATE_IN_PROGRESS"
	StatusCreateComplete     Status = "CREATE_COMPLETE"
	StatusCreateFailed       Status = "CREATE_FAILED"
	StatusUpdateInProgress   Status = "UPDATE_IN_PROGRESS"
	StatusUpdateComplete     Status = "UPDATE_COMPLETE"
	StatusUpdateFailed       Status = "UPDATE_FAILED"
	StatusDeleteInProgress   Status = "DELETE_IN_PROGRESS"
	StatusDeleteComplete     Status = "DELETE_COMPLETE"
	StatusDeleteFailed       Status = "DELETE_FAILED"
	StatusRollbackInProgress Status = "ROLLBACK_IN_PROGRESS"
	StatusRollbackComplete   Status = "ROLLBACK_COMPLETE"
	StatusRollbackFailed     Status = "ROLLBACK_FAILED"
)

// InProgress reports whether s is one of the *_IN_PROGRESS statuses.
func (s Status) InProgress() bool {
	switch s {
	case StatusCreateInProgress, StatusUpdateInProgress, StatusDeleteInProgress, StatusRollbackInProgress:
		return true
	}
	return false
}

// Role is the role of a nodegroup.
type Role string

const (
	RoleController Role = "master"
	RoleWorker     Role = "worker"
)

// HealthStatus is the coarse health reported by the health monitor.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// NodeGroup is one scalable pool of machines.
type NodeGroup struct {
	UUID         string            `json:"uuid"`
	Name         string            `json:"name"`
	Role         Role              `json:"role"`
	FlavorID     string            `json:"flavorID"`
	ImageID      string            `json:"imageID,omitempty"`
	NodeCount    int               `json:"nodeCount"`
	MinNodeCount int               `json:"minNodeCount,omitempty"`
	MaxNodeCount *int              `json:"maxNodeCount,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	Status       Status            `json:"status"`
	StatusReason string            `json:"statusReason,omitempty"`
	IsDefault    bool              `json:"isDefault"`
}

// IsController reports whether the nodegroup runs the control plane.
func (ng *NodeGroup) IsController() bool {
	return ng.Role == RoleController
}

// Template is the cluster template a cluster was created from.
type Template struct {
	UUID              string            `json:"uuid"`
	Name              string            `json:"name"`
	ImageID           string            `json:"imageID"`
	KeypairID         string            `json:"keypairID,omitempty"`
	DNSNameserver     string            `json:"dnsNameserver,omitempty"`
	ExternalNetworkID string            `json:"externalNetworkID,omitempty"`
	FixedNetwork      string            `json:"fixedNetwork,omitempty"`
	FixedSubnet       string            `json:"fixedSubnet,omitempty"`
	MasterLBEnabled   bool              `json:"masterLBEnabled"`
	Labels            map[string]string `json:"labels,omitempty"`
}

// Cluster is the tenant-visible aggregate.
type Cluster struct {
	UUID      string `json:"uuid"`
	Name      string `json:"name"`
	ProjectID string `json:"projectID"`
	UserID    string `json:"userID"`

	// ReleaseID names the Helm release. Once set it never changes.
	ReleaseID string `json:"releaseID,omitempty"`

	Status       Status `json:"status"`
	StatusReason string `json:"statusReason,omitempty"`
	APIAddress   string `json:"apiAddress,omitempty"`

	KeypairID       string            `json:"keypairID,omitempty"`
	FixedNetwork    string            `json:"fixedNetwork,omitempty"`
	FixedSubnet     string            `json:"fixedSubnet,omitempty"`
	MasterLBEnabled *bool             `json:"masterLBEnabled,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`

	Template   Template     `json:"template"`
	NodeGroups []*NodeGroup `json:"nodeGroups"`

	HealthStatus       HealthStatus      `json:"healthStatus,omitempty"`
	HealthStatusReason map[string]string `json:"healthStatusReason,omitempty"`
}

// ControllerNodeGroups returns the control plane nodegroups.
func (c *Cluster) ControllerNodeGroups() []*NodeGroup {
	var out []*NodeGroup
	for _, ng := range c.NodeGroups {
		if ng.IsController() {
			out = append(out, ng)
		}
	}
	return out
}

// WorkerNodeGroups returns every non-controller nodegroup in persisted order.
func (c *Cluster) WorkerNodeGroups() []*NodeGroup {
	var out []*NodeGroup
	for _, ng := range c.NodeGroups {
		if !ng.IsController() {
			out = append(out, ng)
		}
	}
	return out
}

// NodeGroupsControllerFirst returns all nodegroups with controllers ordered first.
func (c *Cluster) NodeGroupsControllerFirst() []*NodeGroup {
	return append(c.ControllerNodeGroups(), c.WorkerNodeGroups()...)
}

// ControllerNodeGroup returns the default controller nodegroup, or the first one.
func (c *Cluster) ControllerNodeGroup() *NodeGroup {
	return pickDefault(c.ControllerNodeGroups())
}

// DefaultWorkerNodeGroup returns the default worker nodegroup, or the first one.
func (c *Cluster) DefaultWorkerNodeGroup() *NodeGroup {
	return pickDefault(c.WorkerNodeGroups())
}

// NodeGroup looks up a nodegroup by name.
func (c *Cluster) NodeGroup(name string) *NodeGroup {
	for _, ng := range c.NodeGroups {
		if ng.Name == name {
			return ng
		}
	}
	return nil
}

// NodeGroupsInProgress reports whether any nodegroup is in a *_IN_PROGRESS status.
func (c *Cluster) NodeGroupsInProgress() bool {
	for _, ng := range c.NodeGroups {
		if ng.Status.InProgress() {
			return true
		}
	}
	return false
}

// RemoveNodeGroup drops the named nodegroup from the record and reports whether it was present.
func (c *Cluster) RemoveNodeGroup(name string) bool {
	for i, ng := range c.NodeGroups {
		if ng.Name == name {
			c.NodeGroups = append(c.NodeGroups[:i], c.NodeGroups[i+1:]...)
			return true
		}
	}
	return false
}

// Keypair returns the keypair configured on the cluster, falling back to the template.
func (c *Cluster) Keypair() string {
	if c.KeypairID != "" {
		return c.KeypairID
	}
	return c.Template.KeypairID
}

// LoadBalancerEnabled reports whether the API server sits behind a load balancer.
func (c *Cluster) LoadBalancerEnabled() bool {
	if c.MasterLBEnabled != nil {
		return *c.MasterLBEnabled
	}
	return c.Template.MasterLBEnabled
}

// Network returns the fixed network and subnet, preferring cluster overrides.
func (c *Cluster) Network() (network, subnet string) {
	network, subnet = c.FixedNetwork, c.FixedSubnet
	if network == "" {
		network = c.Template.FixedNetwork
	}
	if subnet == "" {
		subnet = c.Template.FixedSubnet
	}
	return network, subnet
}

func pickDefault(groups []*NodeGroup) *NodeGroup {
	for _, ng := range groups {
		if ng.IsDefault {
			return ng
		}
	}
	if len(groups) > 0 {
		return groups[0]
	}
	return nil
}
