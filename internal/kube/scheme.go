package kube

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	"github.com/dc-tec/capi-helm-driver/internal/constants"
)

// PolledKinds lists every kind the driver reads as unstructured.
var PolledKinds = []schema.GroupVersionKind{
	constants.GVKCluster,
	constants.GVKOpenStackCluster,
	constants.GVKKubeadmControlPlane,
	constants.GVKMachineDeployment,
	constants.GVKMachine,
	constants.GVKHelmRelease,
	constants.GVKManifests,
}

// NewScheme returns the scheme used by the driver's management cluster client.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(apiextensionsv1.AddToScheme(scheme))
	return scheme
}

// AddUnstructuredKinds registers the polled kinds (and their lists) as
// unstructured types so that clients without discovery, such as the
// controller-runtime fake client, can map them.
func AddUnstructuredKinds(scheme *runtime.Scheme) {
	for _, gvk := range PolledKinds {
		scheme.AddKnownTypeWithName(gvk, &unstructured.Unstructured{})
		scheme.AddKnownTypeWithName(gvk.GroupVersion().WithKind(gvk.Kind+"List"), &unstructured.UnstructuredList{})
	}
}
