// Package naming derives the namespace and resource names used for a cluster.
//
// Names are recomputed on every pass instead of being stored, so every function
// here is pure and deterministic apart from GenerateReleaseName.
package naming

import (
	"regexp"
	"strings"

	utilrand "k8s.io/apimachinery/pkg/util/rand"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
)

const (
	releaseNameMaxPrefix = 30
	releaseSuffixLength  = 12
	releaseFallbackName  = "cluster"
)

var (
	projectIDStrip  = regexp.MustCompile(`[^a-z0-9]`)
	nameSeparatorRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Namespace returns the tenant namespace for a project: the configured prefix
// joined by "-" to the lower-cased project id stripped of everything outside [a-z0-9].
func Namespace(prefix, projectID string) string {
	return prefix + "-" + projectIDStrip.ReplaceAllString(strings.ToLower(projectID), "")
}

// SanitizedName lower-cases name (with "-suffix" appended when suffix is set),
// collapses every run of characters outside [a-z0-9] into a single "-" and
// trims leading and trailing "-". An empty name yields "".
func SanitizedName(name, suffix string) string {
	if name == "" {
		return ""
	}
	if suffix != "" {
		name = name + "-" + suffix
	}
	return strings.Trim(nameSeparatorRe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// ResourceName returns the name of a release-owned resource. An empty suffix
// names the cluster-level resources (Cluster, OpenStackCluster).
func ResourceName(c *cluster.Cluster, suffix string) string {
	return SanitizedName(c.ReleaseID, suffix)
}

// ControlPlaneName names the KubeadmControlPlane of the cluster.
func ControlPlaneName(c *cluster.Cluster) string {
	return ResourceName(c, constants.SuffixControlPlane)
}

// NodeGroupName names the MachineDeployment backing a nodegroup.
func NodeGroupName(c *cluster.Cluster, ng *cluster.NodeGroup) string {
	return ResourceName(c, ng.Name)
}

// CloudCredentialsSecretName names the Secret holding the application credential.
func CloudCredentialsSecretName(c *cluster.Cluster) string {
	return ResourceName(c, constants.SuffixCloudCredentials)
}

// GenerateReleaseName mints a new release name: the sanitized cluster name cut
// to 30 characters, "-", and 12 random lowercase alphanumerics.
func GenerateReleaseName(clusterName string) string {
	prefix := SanitizedName(clusterName, "")
	if prefix == "" {
		prefix = releaseFallbackName
	}
	if len(prefix) > releaseNameMaxPrefix {
		prefix = prefix[:releaseNameMaxPrefix]
	}
	return strings.ToLower(prefix + "-" + utilrand.String(releaseSuffixLength))
}
