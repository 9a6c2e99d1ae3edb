package scan

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltStore", func() {
	itBehavesLikeAStore(func() Store {
		store, err := NewBoltStore(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		return store
	})

	It("should keep data across reopening", func() {
		path := filepath.Join(GinkgoT().TempDir(), "reopen.db")
		store, err := NewBoltStore(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(store.CreateScan(context.Background(), &Scan{ID: "scan-1", Status: StatusUploaded})).To(Succeed())
		Expect(store.Close()).To(Succeed())

		store, err = NewBoltStore(path)
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()
		got, err := store.GetScan(context.Background(), "scan-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(StatusUploaded))
	})

	It("should reject a duplicate scan id", func() {
		store, err := NewBoltStore(filepath.Join(GinkgoT().TempDir(), "dup.db"))
		Expect(err).NotTo(HaveOccurred())
		defer store.Close()
		Expect(store.CreateScan(context.Background(), &Scan{ID: "scan-1", Status: StatusUploaded})).To(Succeed())
		Expect(store.CreateScan(context.Background(), &Scan{ID: "scan-1", Status: StatusUploaded})).NotTo(Succeed())
	})
})
