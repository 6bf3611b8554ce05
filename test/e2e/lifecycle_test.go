//go:build e2e
// +build e2e

package e2e

import (
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/exec"

	"github.com/dc-tec/capi-helm-driver/internal/certs"
	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/config"
	"github.com/dc-tec/capi-helm-driver/internal/constants"
	"github.com/dc-tec/capi-helm-driver/internal/driver"
	"github.com/dc-tec/capi-helm-driver/internal/helm"
	"github.com/dc-tec/capi-helm-driver/internal/openstack"
	"github.com/dc-tec/capi-helm-driver/test/e2e/framework"
)

var _ = Describe("Cluster lifecycle", Ordered, Label("openstack"), func() {
	var (
		d *driver.Driver
		c *cluster.Cluster
	)

	BeforeAll(func() {
		imageID := os.Getenv("E2E_OPENSTACK_IMAGE_ID")
		flavor := os.Getenv("E2E_OPENSTACK_FLAVOR")
		externalNetwork := os.Getenv("E2E_OPENSTACK_EXTERNAL_NETWORK_ID")
		if imageID == "" || flavor == "" || externalNetwork == "" || os.Getenv("E2E_OPENSTACK_USER_ID") == "" {
			Skip("E2E_OPENSTACK_IMAGE_ID, E2E_OPENSTACK_FLAVOR, E2E_OPENSTACK_EXTERNAL_NETWORK_ID and E2E_OPENSTACK_USER_ID are required")
		}

		cfg := config.Default()
		cloud, err := openstack.NewClientFromEnv(f.Ctx, openstack.Options{
			Region:    os.Getenv("OS_REGION_NAME"),
			Interface: cfg.OpenStack.Interface,
		})
		Expect(err).NotTo(HaveOccurred())

		d = driver.New(f.Kube,
			helm.NewClient(exec.New(), helm.Options{Timeout: cfg.HelmTimeout}),
			cloud,
			certs.NewManager(f.Kube, certs.SelfSigned{}),
			f.Store,
			driver.Options{
				NamespacePrefix: framework.NamespacePrefix,
				Chart: helm.Chart{
					Name:       cfg.Chart.Name,
					Repository: cfg.Chart.Repository,
					Version:    os.Getenv("E2E_CHART_VERSION"),
				},
				MinimumFlavorRAM:   cfg.MinimumFlavorRAM,
				MinimumFlavorVCPUs: cfg.MinimumFlavorVCPUs,
			})

		c = f.NewCluster("lifecycle-e2e", cluster.Template{
			UUID:              "e2e-template",
			Name:              "e2e-template",
			ImageID:           imageID,
			KeypairID:         os.Getenv("E2E_OPENSTACK_KEYPAIR"),
			ExternalNetworkID: externalNetwork,
			MasterLBEnabled:   true,
		}, flavor, flavor)
	})

	It("creates the cluster and records its API address", func() {
		Expect(d.CreateCluster(f.Ctx, c, framework.DefaultLongWaitTimeout)).To(Succeed())
		Expect(c.ReleaseID).NotTo(BeEmpty())

		By("checking the CA and cloud credential secrets")
		for _, kind := range certs.Kinds {
			secret, err := f.Kube.GetSecret(f.Ctx, certs.SecretName(c, kind), f.ProjectNamespace())
			Expect(err).NotTo(HaveOccurred())
			Expect(secret).NotTo(BeNil(), "missing %s secret", kind)
		}

		f.WaitForStatus(d, c.UUID, cluster.StatusCreateComplete, framework.DefaultLongWaitTimeout)

		got, err := f.Store.GetCluster(f.Ctx, c.UUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.APIAddress).To(HavePrefix("https://"))
		for _, ng := range got.NodeGroups {
			Expect(ng.Status).To(Equal(cluster.StatusCreateComplete), "nodegroup %s", ng.Name)
		}
		c = got
	})

	It("reports the cluster healthy", func() {
		Eventually(func(g Gomega) {
			report, err := d.PollHealth(f.Ctx, c)
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(report.Status).To(Equal(cluster.HealthStatusHealthy), "reasons: %v", report.Reasons)
		}, framework.DefaultWaitTimeout*5, framework.DefaultPollInterval).Should(Succeed())
	})

	It("resizes the default worker nodegroup", func() {
		Expect(d.ResizeCluster(f.Ctx, c, 2, nil, c.DefaultWorkerNodeGroup())).To(Succeed())
		f.WaitForStatus(d, c.UUID, cluster.StatusUpdateComplete, framework.DefaultLongWaitTimeout)

		got, err := f.Store.GetCluster(f.Ctx, c.UUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.DefaultWorkerNodeGroup().NodeCount).To(Equal(2))
		Expect(got.DefaultWorkerNodeGroup().Status).To(Equal(cluster.StatusUpdateComplete))
		c = got
	})

	It("deletes the cluster and cleans up its secrets", func() {
		Expect(d.DeleteCluster(f.Ctx, c)).To(Succeed())
		f.WaitForStatus(d, c.UUID, cluster.StatusDeleteComplete, framework.DefaultLongWaitTimeout)

		Eventually(func(g Gomega) {
			secret, err := f.Kube.GetSecret(f.Ctx, certs.SecretName(c, constants.SuffixCA), f.ProjectNamespace())
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(secret).To(BeNil())
		}, framework.DefaultWaitTimeout, framework.DefaultPollInterval).Should(Succeed())
	})
})
