//go:build e2e
// +build e2e

package e2e

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dc-tec/capi-helm-driver/internal/cluster"
	"github.com/dc-tec/capi-helm-driver/internal/store"
)

var _ = Describe("Cluster record store", func() {
	It("persists, lists and deletes records in the state namespace", func() {
		c := f.NewCluster("store-e2e", cluster.Template{ImageID: "unused"}, "unused", "unused")
		Expect(f.Store.SaveCluster(f.Ctx, c)).To(Succeed())

		got, err := f.Store.GetCluster(f.Ctx, c.UUID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Name).To(Equal("store-e2e"))
		Expect(got.NodeGroups).To(HaveLen(2))

		worker := got.DefaultWorkerNodeGroup()
		worker.Status = cluster.StatusUpdateInProgress
		Expect(f.Store.SaveNodeGroup(f.Ctx, got, worker)).To(Succeed())

		all, err := f.Store.ListClusters(f.Ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(all).To(ContainElement(HaveField("UUID", c.UUID)))

		Expect(f.Store.DeleteCluster(f.Ctx, c.UUID)).To(Succeed())
		_, err = f.Store.GetCluster(f.Ctx, c.UUID)
		Expect(err).To(MatchError(store.ErrNotFound))
	})
})
