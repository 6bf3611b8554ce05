package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/capi-helm-driver/internal/constants"
	operrors "github.com/dc-tec/capi-helm-driver/internal/errors"
)

// Client reads Cluster API resources and manages driver-owned Secrets and
// namespaces on the management cluster. Getters return (nil, nil) when the
// resource does not exist.
type Client struct {
	client client.Client
}

// NewClient wraps a controller-runtime client.
func NewClient(c client.Client) *Client {
	return &Client{client: c}
}

// GetCluster fetches a cluster.x-k8s.io Cluster.
func (k *Client) GetCluster(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	return k.get(ctx, constants.GVKCluster, name, namespace)
}

// GetOpenStackCluster fetches the CAPO infrastructure cluster.
func (k *Client) GetOpenStackCluster(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	return k.get(ctx, constants.GVKOpenStackCluster, name, namespace)
}

// GetKubeadmControlPlane fetches the control plane resource.
func (k *Client) GetKubeadmControlPlane(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	return k.get(ctx, constants.GVKKubeadmControlPlane, name, namespace)
}

// GetMachineDeployment fetches the machine group backing a nodegroup.
func (k *Client) GetMachineDeployment(ctx context.Context, name, namespace string) (*unstructured.Unstructured, error) {
	return k.get(ctx, constants.GVKMachineDeployment, name, namespace)
}

// ListMachines lists Machines matching the label selector.
func (k *Client) ListMachines(ctx context.Context, selector map[string]string, namespace string) ([]unstructured.Unstructured, error) {
	return k.list(ctx, constants.GVKMachine, selector, namespace)
}

// ListAddons lists every addon resource (HelmRelease and Manifests) labelled key=value.
func (k *Client) ListAddons(ctx context.Context, key, value, namespace string) ([]unstructured.Unstructured, error) {
	var addons []unstructured.Unstructured
	for _, gvk := range constants.AddonKinds {
		items, err := k.list(ctx, gvk, map[string]string{key: value}, namespace)
		if err != nil {
			return nil, err
		}
		addons = append(addons, items...)
	}
	return addons, nil
}

// AnnotateMachine sets an annotation on a Machine with a merge patch.
func (k *Client) AnnotateMachine(ctx context.Context, machine *unstructured.Unstructured, key, value string) error {
	original := machine.DeepCopy()
	annotations := machine.GetAnnotations()
	if annotations == nil {
		annotations = map[string]string{}
	}
	annotations[key] = value
	machine.SetAnnotations(annotations)
	if err := k.client.Patch(ctx, machine, client.MergeFrom(original)); err != nil {
		return operrors.WrapTransientKubernetesAPI(fmt.Errorf("failed to annotate machine %s/%s: %w",
			machine.GetNamespace(), machine.GetName(), err))
	}
	return nil
}

// ApplySecret creates or updates a Secret using server-side apply.
func (k *Client) ApplySecret(ctx context.Context, secret *corev1.Secret) error {
	secret.TypeMeta = metav1.TypeMeta{
		APIVersion: "v1",
		Kind:       "Secret",
	}
	if err := Apply(ctx, k.client, secret, constants.FieldOwner); err != nil {
		return operrors.WrapTransientKubernetesAPI(err)
	}
	return nil
}

// GetSecret fetches a Secret, returning nil when it does not exist.
func (k *Client) GetSecret(ctx context.Context, name, namespace string) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	if err := k.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, secret); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", namespace, name, err)
	}
	return secret, nil
}

// DeleteSecretsByLabel deletes every Secret in namespace labelled key=value.
// Deleting nothing is not an error.
func (k *Client) DeleteSecretsByLabel(ctx context.Context, key, value, namespace string) error {
	err := k.client.DeleteAllOf(ctx, &corev1.Secret{},
		client.InNamespace(namespace),
		client.MatchingLabels{key: value},
	)
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete secrets %s=%s in %s: %w", key, value, namespace, err)
	}
	return nil
}

// EnsureNamespace creates the namespace when it does not exist yet.
func (k *Client) EnsureNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				constants.LabelAppManagedBy: constants.LabelValueManagedByDriver,
			},
		},
	}
	if err := k.client.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create namespace %s: %w", name, err)
	}
	return nil
}

func (k *Client) get(ctx context.Context, gvk schema.GroupVersionKind, name, namespace string) (*unstructured.Unstructured, error) {
	obj := &unstructured.Unstructured{}
	obj.SetGroupVersionKind(gvk)
	if err := k.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, operrors.WrapCRDMissing(fmt.Errorf("failed to get %s %s/%s: %w", gvk.Kind, namespace, name, err))
	}
	return obj, nil
}

func (k *Client) list(ctx context.Context, gvk schema.GroupVersionKind, selector map[string]string, namespace string) ([]unstructured.Unstructured, error) {
	list := &unstructured.UnstructuredList{}
	list.SetGroupVersionKind(gvk.GroupVersion().WithKind(gvk.Kind + "List"))
	if err := k.client.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels(selector)); err != nil {
		return nil, operrors.WrapCRDMissing(fmt.Errorf("failed to list %s in %s: %w", gvk.Kind, namespace, err))
	}
	return list.Items, nil
}
