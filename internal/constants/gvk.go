package constants

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	clusterv1 "sigs.k8s.io/cluster-api/api/v1beta1"
	controlplanev1 "sigs.k8s.io/cluster-api/controlplane/kubeadm/api/v1beta1"
)

// InfrastructureGroupVersion is the CAPO API version served by the management cluster.
var InfrastructureGroupVersion = schema.GroupVersion{Group: "infrastructure.cluster.x-k8s.io", Version: "v1beta1"}

// AddonsGroupVersion is the cluster-api-addon-provider API version.
var AddonsGroupVersion = schema.GroupVersion{Group: "addons.stackhpc.com", Version: "v1alpha1"}

// GroupVersionKinds of the resources the driver polls.
var (
	GVKCluster             = clusterv1.GroupVersion.WithKind("Cluster")
	GVKMachineDeployment   = clusterv1.GroupVersion.WithKind("MachineDeployment")
	GVKMachine             = clusterv1.GroupVersion.WithKind("Machine")
	GVKKubeadmControlPlane = controlplanev1.GroupVersion.WithKind("KubeadmControlPlane")
	GVKOpenStackCluster    = InfrastructureGroupVersion.WithKind("OpenStackCluster")
	GVKHelmRelease         = AddonsGroupVersion.WithKind("HelmRelease")
	GVKManifests           = AddonsGroupVersion.WithKind("Manifests")
)

// AddonKinds lists the addon kinds whose phase gates cluster completion.
var AddonKinds = []schema.GroupVersionKind{GVKHelmRelease, GVKManifests}

// MachineClusterNameLabel selects the machines belonging to a CAPI cluster.
const MachineClusterNameLabel = clusterv1.ClusterNameLabel

// MachineDeploymentNameLabel selects the machines owned by a MachineDeployment.
const MachineDeploymentNameLabel = clusterv1.MachineDeploymentNameLabel

// DeleteMachineAnnotation marks a Machine to be removed first when its group scales down.
const DeleteMachineAnnotation = clusterv1.DeleteMachineAnnotation
