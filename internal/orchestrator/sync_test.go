package orchestrator_test

import (
	"context"
	"encoding/json"

	"github.com/botforge-cloud/instance-manager/internal/orchestrator"
	"github.com/botforge-cloud/instance-manager/internal/secrets"
	"github.com/botforge-cloud/instance-manager/internal/store"
	"github.com/botforge-cloud/instance-manager/internal/store/model"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/datatypes"
)

var _ = Describe("SyncConfig", func() {
	var (
		ctx       context.Context
		dataStore store.Store
		fake      *fakeRailway
		codec     *secrets.Codec
		orch      *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		dataStore = newTestStore()
		fake = newFakeRailway()
		codec = newTestCodec()
		orch = orchestrator.New(dataStore, fake, codec, testDeployConfig())
	})

	AfterEach(func() {
		Expect(dataStore.Close()).To(Succeed())
	})

	encrypt := func(plaintext string) string {
		enc, err := codec.Encrypt(plaintext)
		Expect(err).NotTo(HaveOccurred())
		return enc
	}

	channelJSON := func(blob map[string]any) datatypes.JSON {
		raw, err := json.Marshal(blob)
		Expect(err).NotTo(HaveOccurred())
		return datatypes.JSON(raw)
	}

	newSyncedInstance := func() *model.Instance {
		port, err := dataStore.Instance().NextPort(ctx)
		Expect(err).NotTo(HaveOccurred())
		containerID := "svc-live"
		instance, err := dataStore.Instance().Create(ctx, model.Instance{
			ID:            uuid.New(),
			UserID:        "user-1",
			ContainerID:   &containerID,
			ContainerName: orchestrator.ServiceNameForUser("user-1"),
			Port:          port,
			Status:        model.InstanceStatusRunning,
			GatewayToken:  "tok-123",
		})
		Expect(err).NotTo(HaveOccurred())
		return instance
	}

	It("rebuilds the config from stored state and pushes it to the running service", func() {
		instance := newSyncedInstance()
		_, err := dataStore.Configuration().Create(ctx, model.Configuration{
			ID:         uuid.New(),
			InstanceID: instance.ID,
			UserID:     "user-1",
			Provider:   model.ProviderAnthropic,
			Model:      "claude-sonnet-4-20250514",
			APIKeyEnc:  encrypt("sk-ant-test"),
			Channels: []model.Channel{
				{
					ID:          uuid.New(),
					ChannelType: model.ChannelWhatsApp,
					Enabled:     true,
					Config:      channelJSON(map[string]any{"dmPolicy": "open"}),
				},
				{
					ID:          uuid.New(),
					ChannelType: model.ChannelDiscord,
					Enabled:     false,
					Config:      channelJSON(map[string]any{"botToken": "d-token"}),
				},
			},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(orch.SyncConfig(ctx, instance.ID)).To(Succeed())
		Expect(fake.setVarCalls).To(Equal(1))
		Expect(fake.redeployCalls).To(Equal(1))

		env := fake.envFor("svc-live")
		Expect(env).To(HaveKeyWithValue("ANTHROPIC_API_KEY", "sk-ant-test"))
		Expect(env).To(HaveKeyWithValue("GATEWAY_TOKEN", "tok-123"))
		Expect(env).NotTo(HaveKey("DISCORD_BOT_TOKEN"))

		var blob map[string]any
		Expect(json.Unmarshal([]byte(env["BOT_CONFIG_JSON"]), &blob)).To(Succeed())
		channels := blob["channels"].(map[string]any)
		Expect(channels).To(HaveKey("whatsapp"))
		Expect(channels).NotTo(HaveKey("discord"))
		Expect(channels["whatsapp"].(map[string]any)["dmPolicy"]).To(Equal("open"))
	})

	It("reuses the persisted gateway token instead of minting a new one", func() {
		instance := newSyncedInstance()
		_, err := dataStore.Configuration().Create(ctx, model.Configuration{
			ID:         uuid.New(),
			InstanceID: instance.ID,
			UserID:     "user-1",
			Provider:   model.ProviderAnthropic,
			Model:      "claude-sonnet-4-20250514",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(orch.SyncConfig(ctx, instance.ID)).To(Succeed())
		Expect(fake.envFor("svc-live")["GATEWAY_TOKEN"]).To(Equal("tok-123"))

		reloaded, err := dataStore.Instance().Get(ctx, instance.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.GatewayToken).To(Equal("tok-123"))
	})

	It("is a no-op when the instance does not exist", func() {
		Expect(orch.SyncConfig(ctx, uuid.New())).To(Succeed())
		Expect(fake.setVarCalls).To(BeZero())
	})

	It("is a no-op when the instance has no remote service", func() {
		port, err := dataStore.Instance().NextPort(ctx)
		Expect(err).NotTo(HaveOccurred())
		instance, err := dataStore.Instance().Create(ctx, model.Instance{
			ID:            uuid.New(),
			UserID:        "user-1",
			ContainerName: orchestrator.ServiceNameForUser("user-1"),
			Port:          port,
			Status:        model.InstanceStatusDeploying,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(orch.SyncConfig(ctx, instance.ID)).To(Succeed())
		Expect(fake.setVarCalls).To(BeZero())
	})

	It("is a no-op when the instance has no configuration", func() {
		instance := newSyncedInstance()

		Expect(orch.SyncConfig(ctx, instance.ID)).To(Succeed())
		Expect(fake.setVarCalls).To(BeZero())
		Expect(fake.redeployCalls).To(BeZero())
	})
})
