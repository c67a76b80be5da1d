package store_test

import (
	"context"

	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("InstanceStore", func() {
	var (
		ctx       context.Context
		dataStore store.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		dataStore = newTestStore()
	})

	AfterEach(func() {
		Expect(dataStore.Close()).To(Succeed())
	})

	newInstance := func(userID string, port int) model.Instance {
		return model.Instance{
			ID:            uuid.New(),
			UserID:        userID,
			ContainerName: "chatbot-ab12cd34",
			Port:          port,
			Status:        model.InstanceStatusDeploying,
		}
	}

	It("creates and retrieves an instance by ID and by user", func() {
		created, err := dataStore.Instance().Create(ctx, newInstance("user-1", 20000))
		Expect(err).NotTo(HaveOccurred())

		byID, err := dataStore.Instance().Get(ctx, created.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(byID.UserID).To(Equal("user-1"))

		byUser, err := dataStore.Instance().GetByUserID(ctx, "user-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(byUser.ID).To(Equal(created.ID))
	})

	It("enforces at most one instance per user", func() {
		_, err := dataStore.Instance().Create(ctx, newInstance("user-1", 20000))
		Expect(err).NotTo(HaveOccurred())

		_, err = dataStore.Instance().Create(ctx, newInstance("user-1", 20001))
		Expect(err).To(HaveOccurred())
	})

	It("enforces port uniqueness", func() {
		_, err := dataStore.Instance().Create(ctx, newInstance("user-1", 20000))
		Expect(err).NotTo(HaveOccurred())

		_, err = dataStore.Instance().Create(ctx, newInstance("user-2", 20000))
		Expect(err).To(HaveOccurred())
	})

	It("returns ErrInstanceNotFound for missing rows", func() {
		_, err := dataStore.Instance().Get(ctx, uuid.New())
		Expect(err).To(MatchError(store.ErrInstanceNotFound))

		_, err = dataStore.Instance().GetByUserID(ctx, "nobody")
		Expect(err).To(MatchError(store.ErrInstanceNotFound))

		Expect(dataStore.Instance().Delete(ctx, uuid.New())).To(MatchError(store.ErrInstanceNotFound))
		Expect(dataStore.Instance().UpdateFields(ctx, uuid.New(), map[string]any{
			"status": model.InstanceStatusError,
		})).To(MatchError(store.ErrInstanceNotFound))
	})

	Describe("UpdateFields", func() {
		It("applies a partial update without touching other columns", func() {
			created, err := dataStore.Instance().Create(ctx, newInstance("user-1", 20000))
			Expect(err).NotTo(HaveOccurred())

			Expect(dataStore.Instance().UpdateFields(ctx, created.ID, map[string]any{
				"status":       model.InstanceStatusRunning,
				"container_id": "svc-1",
			})).To(Succeed())

			reloaded, err := dataStore.Instance().Get(ctx, created.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(reloaded.Status).To(Equal(model.InstanceStatusRunning))
			Expect(*reloaded.ContainerID).To(Equal("svc-1"))
			Expect(reloaded.Port).To(Equal(20000))
		})
	})

	Describe("List", func() {
		It("filters by status when one is given", func() {
			_, err := dataStore.Instance().Create(ctx, newInstance("user-1", 20000))
			Expect(err).NotTo(HaveOccurred())
			running := newInstance("user-2", 20001)
			running.Status = model.InstanceStatusRunning
			_, err = dataStore.Instance().Create(ctx, running)
			Expect(err).NotTo(HaveOccurred())

			status := model.InstanceStatusRunning
			instances, err := dataStore.Instance().List(ctx, &status)
			Expect(err).NotTo(HaveOccurred())
			Expect(instances).To(HaveLen(1))
			Expect(instances[0].UserID).To(Equal("user-2"))

			all, err := dataStore.Instance().List(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})
	})

	Describe("NextPort", func() {
		It("starts at the base of the range", func() {
			port, err := dataStore.Instance().NextPort(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(port).To(Equal(20000))
		})

		It("allocates one past the current maximum", func() {
			_, err := dataStore.Instance().Create(ctx, newInstance("user-1", 20000))
			Expect(err).NotTo(HaveOccurred())
			_, err = dataStore.Instance().Create(ctx, newInstance("user-2", 20005))
			Expect(err).NotTo(HaveOccurred())

			port, err := dataStore.Instance().NextPort(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(port).To(Equal(20006))
		})
	})
})
