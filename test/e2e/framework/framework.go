//go:build e2e
// +build e2e

package framework

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/driver"
	"github.com/dc-tec/capi-helm-driver/internal/kube"
	"github.com/dc-tec/capi-helm-driver/internal/naming"
	"github.com/dc-tec/capi-helm-driver/internal/store"
)

const (
	// NamespacePrefix is the prefix of the per-project namespaces created by the suite.
	NamespacePrefix = "magnum-e2e"

	// DefaultPollInterval is the default polling interval for E2E waits.
	DefaultPollInterval = 5 * time.Second
	// DefaultWaitTimeout is the default timeout for common E2E waits.
	DefaultWaitTimeout = 2 * time.Minute
	// DefaultLongWaitTimeout covers provisioning and deleting OpenStack machines.
	DefaultLongWaitTimeout = 45 * time.Minute
)

// Framework holds the management cluster clients of one E2E run. Every run
// uses its own project id, so its namespace and state records do not collide
// with other runs.
type Framework struct {
	Ctx            context.Context
	Client         client.Client
	Kube           *kube.Client
	Store          *store.ConfigMapStore
	StateNamespace string
	ProjectID      string
}

// NewSetup connects to the management cluster named by KUBECONFIG and
// creates the state namespace of the run.
func NewSetup(ctx context.Context, baseName string) (*Framework, error) {
	if baseName == "" {
		return nil, fmt.Errorf("base name is required")
	}
	cfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kube config: %w", err)
	}
	c, err := client.New(cfg, client.Options{Scheme: kube.NewScheme()})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	f := &Framework{
		Ctx:            ctx,
		Client:         c,
		Kube:           kube.NewClient(c),
		StateNamespace: fmt.Sprintf("%s-state-%s", baseName, suffix),
		ProjectID:      suffix,
	}
	if err := f.Kube.EnsureNamespace(ctx, f.StateNamespace); err != nil {
		return nil, err
	}
	f.Store = store.NewConfigMapStore(c, f.StateNamespace)
	return f, nil
}

// ProjectNamespace is the namespace the driver uses for clusters of the run.
func (f *Framework) ProjectNamespace() string {
	return naming.Namespace(NamespacePrefix, f.ProjectID)
}

// NewCluster returns a cluster record owned by the project of the run.
func (f *Framework) NewCluster(name string, tmpl cluster.Template, controllerFlavor, workerFlavor string) *cluster.Cluster {
	return &cluster.Cluster{
		UUID:      uuid.NewString(),
		Name:      name,
		ProjectID: f.ProjectID,
		UserID:    os.Getenv("E2E_OPENSTACK_USER_ID"),
		Status:    cluster.StatusCreateInProgress,
		Template:  tmpl,
		NodeGroups: []*cluster.NodeGroup{
			{UUID: uuid.NewString(), Name: "default-master", Role: cluster.RoleController, FlavorID: controllerFlavor, NodeCount: 1, IsDefault: true, Status: cluster.StatusCreateInProgress},
			{UUID: uuid.NewString(), Name: "default-worker", Role: cluster.RoleWorker, FlavorID: workerFlavor, NodeCount: 1, IsDefault: true, Status: cluster.StatusCreateInProgress},
		},
	}
}

// WaitForStatus runs status passes for the cluster until it reaches want.
// It fails early when the cluster lands in a *_FAILED status instead.
func (f *Framework) WaitForStatus(d *driver.Driver, uuid string, want cluster.Status, timeout time.Duration) {
	Eventually(func(g Gomega) {
		c, err := f.Store.GetCluster(f.Ctx, uuid)
		g.Expect(err).NotTo(HaveOccurred())
		_, err = d.UpdateClusterStatus(f.Ctx, c)
		g.Expect(err).NotTo(HaveOccurred())
		if want != c.Status && strings.HasSuffix(string(c.Status), "_FAILED") {
			StopTrying(fmt.Sprintf("cluster reached %s: %s", c.Status, c.StatusReason)).Now()
		}
		g.Expect(c.Status).To(Equal(want))
	}, timeout, DefaultPollInterval).Should(Succeed(), "Cluster failed to reach status %s", want)
}

// Cleanup deletes the namespaces of the run, ignoring NotFound.
func (f *Framework) Cleanup(ctx context.Context) error {
	if f == nil || f.Client == nil {
		return nil
	}
	if os.Getenv("E2E_SKIP_CLEANUP") == "true" {
		return nil
	}
	for _, name := range []string{f.ProjectNamespace(), f.StateNamespace} {
		ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
		if err := f.Client.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete namespace %q: %w", name, err)
		}
	}
	return nil
}
