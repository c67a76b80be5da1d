package railway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/botforge-cloud/instance-manager/internal/config"
	"github.com/botforge-cloud/instance-manager/internal/railway"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type capturedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// graphQLStub routes incoming documents by operation keyword and records
// every request it sees.
type graphQLStub struct {
	mu       sync.Mutex
	requests []capturedRequest
	respond  func(req capturedRequest, w http.ResponseWriter)
}

func (s *graphQLStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req capturedRequest
		Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		s.respond(req, w)
	}
}

func (s *graphQLStub) captured() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest(nil), s.requests...)
}

func writeData(w http.ResponseWriter, data string) {
	_, _ = w.Write([]byte(`{"data":` + data + `}`))
}

func writeErrors(w http.ResponseWriter, messages ...string) {
	quoted := make([]string, len(messages))
	for i, m := range messages {
		quoted[i] = `{"message":"` + m + `"}`
	}
	_, _ = w.Write([]byte(`{"errors":[` + strings.Join(quoted, ",") + `]}`))
}

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		stub   *graphQLStub
		server *httptest.Server
		client *railway.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		stub = &graphQLStub{}
		server = httptest.NewServer(stub.handler())

		var err error
		client, err = railway.NewClient(&config.RailwayConfig{
			Token:         "test-token",
			ProjectID:     "proj-1",
			EnvironmentID: "env-1",
		})
		Expect(err).NotTo(HaveOccurred())
		client.SetEndpoint(server.URL)
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("NewClient", func() {
		It("refuses to construct without full credentials", func() {
			_, err := railway.NewClient(&config.RailwayConfig{Token: "t", ProjectID: "p"})
			Expect(err).To(HaveOccurred())
			_, err = railway.NewClient(nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("VerifyAccess", func() {
		It("succeeds when the project is readable", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"project":{"id":"proj-1","name":"botforge"}}`)
			}
			Expect(client.VerifyAccess(ctx)).To(Succeed())
		})

		It("concatenates GraphQL error messages", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeErrors(w, "Not Authorized", "Project not found")
			}
			err := client.VerifyAccess(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("Not Authorized; Project not found"))
		})

		It("surfaces envelope errors carried on a non-2xx response", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				w.WriteHeader(http.StatusBadRequest)
				writeErrors(w, "Problem processing request")
			}
			err := client.VerifyAccess(ctx)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("Problem processing request"))
		})
	})

	Describe("CreateService", func() {
		It("creates the service and upserts its variables", func() {
			stub.respond = func(req capturedRequest, w http.ResponseWriter) {
				if strings.Contains(req.Query, "serviceCreate") {
					writeData(w, `{"serviceCreate":{"id":"svc-1"}}`)
					return
				}
				writeData(w, `true`)
			}

			id, err := client.CreateService(ctx, "chatbot-ab12cd34", "ghcr.io/botforge-cloud/agent-runtime:latest", map[string]string{"GATEWAY_PORT": "18789"})
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("svc-1"))

			requests := stub.captured()
			Expect(requests).To(HaveLen(2))
			Expect(requests[0].Query).To(ContainSubstring("serviceCreate"))
			input := requests[0].Variables["input"].(map[string]any)
			Expect(input["projectId"]).To(Equal("proj-1"))
			Expect(input["name"]).To(Equal("chatbot-ab12cd34"))
			Expect(input["source"].(map[string]any)["image"]).To(Equal("ghcr.io/botforge-cloud/agent-runtime:latest"))

			Expect(requests[1].Query).To(ContainSubstring("variableCollectionUpsert"))
			varsInput := requests[1].Variables["input"].(map[string]any)
			Expect(varsInput["serviceId"]).To(Equal("svc-1"))
			Expect(varsInput["variables"].(map[string]any)).To(HaveKeyWithValue("GATEWAY_PORT", "18789"))
		})

		It("skips the variable upsert when there are none", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"serviceCreate":{"id":"svc-1"}}`)
			}

			_, err := client.CreateService(ctx, "chatbot-ab12cd34", "image", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(stub.captured()).To(HaveLen(1))
		})

		It("returns the service ID alongside a variable upsert failure", func() {
			stub.respond = func(req capturedRequest, w http.ResponseWriter) {
				if strings.Contains(req.Query, "serviceCreate") {
					writeData(w, `{"serviceCreate":{"id":"svc-1"}}`)
					return
				}
				writeErrors(w, "You are being rate limited")
			}

			id, err := client.CreateService(ctx, "chatbot-ab12cd34", "image", map[string]string{"A": "1"})
			Expect(err).To(HaveOccurred())
			Expect(id).To(Equal("svc-1"))
		})
	})

	Describe("FindServiceByName", func() {
		BeforeEach(func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"project":{"services":{"edges":[
					{"node":{"id":"svc-1","name":"chatbot-ab12cd34"}},
					{"node":{"id":"svc-2","name":"chatbot-ff00ff00"}}
				]}}}`)
			}
		})

		It("returns the ID of an exact name match", func() {
			id, err := client.FindServiceByName(ctx, "chatbot-ff00ff00")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("svc-2"))
		})

		It("returns empty for an absent name", func() {
			id, err := client.FindServiceByName(ctx, "chatbot-deadbeef")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(BeEmpty())
		})
	})

	Describe("GetLatestDeployment", func() {
		It("returns nil when the service has no deployments", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"deployments":{"edges":[]}}`)
			}
			deployment, err := client.GetLatestDeployment(ctx, "svc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(deployment).To(BeNil())
		})

		It("prefers the deployment url", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"deployments":{"edges":[{"node":{
					"id":"dep-1","status":"SUCCESS",
					"url":"https://bot.up.railway.app","staticUrl":"static.railway.app",
					"createdAt":"2026-08-29T10:00:00Z"
				}}]}}`)
			}
			deployment, err := client.GetLatestDeployment(ctx, "svc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(deployment.Status).To(Equal(railway.DeployStatusSuccess))
			Expect(deployment.URL).To(Equal("https://bot.up.railway.app"))
		})

		It("falls back to staticUrl with an https scheme", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"deployments":{"edges":[{"node":{
					"id":"dep-1","status":"SUCCESS",
					"url":"","staticUrl":"static.railway.app",
					"createdAt":"2026-08-29T10:00:00Z"
				}}]}}`)
			}
			deployment, err := client.GetLatestDeployment(ctx, "svc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(deployment.URL).To(Equal("https://static.railway.app"))
		})
	})

	Describe("GetLogs", func() {
		It("returns entries on success", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"deploymentLogs":[
					{"timestamp":"t1","message":"booting","severity":"info"}
				]}`)
			}
			entries := client.GetLogs(ctx, "dep-1", 20)
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].Message).To(Equal("booting"))
		})

		It("degrades to empty on failure", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeErrors(w, "Not Authorized")
			}
			Expect(client.GetLogs(ctx, "dep-1", 20)).To(BeEmpty())
		})
	})

	Describe("CreateServiceDomain", func() {
		It("returns the https URL of the new domain", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `{"serviceDomainCreate":{"domain":"bot.up.railway.app"}}`)
			}
			url, err := client.CreateServiceDomain(ctx, "svc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://bot.up.railway.app"))
		})

		It("treats an already existing domain as a non-fatal empty result", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeErrors(w, "Domain already exists on this service")
			}
			url, err := client.CreateServiceDomain(ctx, "svc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(BeEmpty())
		})

		It("propagates other failures", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeErrors(w, "Not Authorized")
			}
			_, err := client.CreateServiceDomain(ctx, "svc-1")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("lifecycle mutations", func() {
		It("sends the scoped identifiers on redeploy", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `true`)
			}
			Expect(client.RedeployService(ctx, "svc-1")).To(Succeed())

			req := stub.captured()[0]
			Expect(req.Query).To(ContainSubstring("serviceInstanceRedeploy"))
			Expect(req.Variables["serviceId"]).To(Equal("svc-1"))
			Expect(req.Variables["environmentId"]).To(Equal("env-1"))
		})

		It("sends the start command override", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `true`)
			}
			Expect(client.UpdateStartCommand(ctx, "svc-1", "run --config /data/bot-config.json")).To(Succeed())

			req := stub.captured()[0]
			Expect(req.Query).To(ContainSubstring("serviceInstanceUpdate"))
			input := req.Variables["input"].(map[string]any)
			Expect(input["startCommand"]).To(Equal("run --config /data/bot-config.json"))
		})

		It("removes and restarts deployments by ID", func() {
			stub.respond = func(_ capturedRequest, w http.ResponseWriter) {
				writeData(w, `true`)
			}
			Expect(client.RemoveDeployment(ctx, "dep-1")).To(Succeed())
			Expect(client.RestartDeployment(ctx, "dep-2")).To(Succeed())

			requests := stub.captured()
			Expect(requests[0].Query).To(ContainSubstring("deploymentRemove"))
			Expect(requests[0].Variables["id"]).To(Equal("dep-1"))
			Expect(requests[1].Query).To(ContainSubstring("deploymentRestart"))
			Expect(requests[1].Variables["id"]).To(Equal("dep-2"))
		})
	})
})
