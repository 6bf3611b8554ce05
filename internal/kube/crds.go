package kube

import (
	"context"
	"fmt"
	"strings"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

// RequiredCRDs are the CustomResourceDefinitions the driver polls.
var RequiredCRDs = []string{
	"clusters.cluster.x-k8s.io",
	"machinedeployments.cluster.x-k8s.io",
	"machines.cluster.x-k8s.io",
	"kubeadmcontrolplanes.controlplane.cluster.x-k8s.io",
	"openstackclusters.infrastructure.cluster.x-k8s.io",
	"helmreleases.addons.stackhpc.com",
	"manifests.addons.stackhpc.com",
}

// CheckCRDs verifies that every required CRD is installed and established.
func CheckCRDs(ctx context.Context, c client.Reader) error {
	var missing []string
	for _, name := range RequiredCRDs {
		crd := &apiextensionsv1.CustomResourceDefinition{}
		if err := c.Get(ctx, types.NamespacedName{Name: name}, crd); err != nil {
			if apierrors.IsNotFound(err) {
				missing = append(missing, name)
				continue
			}
			return fmt.Errorf("failed to get CRD %s: %w", name, err)
		}
		if !established(crd) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: CRDs not established: %s",
			operrors.ErrPermanentPrerequisitesMissing, strings.Join(missing, ", "))
	}
	return nil
}

func established(crd *apiextensionsv1.CustomResourceDefinition) bool {
	for _, condition := range crd.Status.Conditions {
		if condition.Type == apiextensionsv1.Established {
			return condition.Status == apiextensionsv1.ConditionTrue
		}
	}
	return false
}
