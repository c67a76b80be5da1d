//go:build e2e

package e2e_test

import (
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// These tests run against a live server configured with real Railway
// credentials:
//
//	API_URL             base URL (default http://localhost:8080)
//	E2E_SESSION_TOKEN   dashboard session token for the test user
//	E2E_API_KEY         provider API key used for the deployed bot
//
// A real deploy takes a few minutes end to end.
var _ = Describe("Instance API", func() {
	var (
		api     *resty.Client
		baseURL string
	)

	BeforeEach(func() {
		baseURL = os.Getenv("API_URL")
		if baseURL == "" {
			baseURL = "http://localhost:8080"
		}
		api = resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Minute)
		if token := os.Getenv("E2E_SESSION_TOKEN"); token != "" {
			api.SetAuthToken(token)
		}
	})

	Describe("Health", func() {
		It("returns healthy status", func() {
			var body map[string]string
			resp, err := api.R().SetResult(&body).Get("/health")

			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(body["status"]).To(Equal("ok"))
		})
	})

	Describe("Instance lifecycle", func() {
		It("deploys, inspects, and stops an instance", func() {
			if os.Getenv("E2E_SESSION_TOKEN") == "" || os.Getenv("E2E_API_KEY") == "" {
				Skip("E2E_SESSION_TOKEN and E2E_API_KEY are required for the lifecycle test")
			}

			By("deploying a new instance")
			var deployed struct {
				InstanceID string `json:"instanceId"`
				Status     string `json:"status"`
				AccessURL  string `json:"accessUrl"`
			}
			resp, err := api.R().
				SetBody(map[string]any{
					"provider": "ANTHROPIC",
					"model":    "claude-sonnet-4-20250514",
					"apiKey":   os.Getenv("E2E_API_KEY"),
				}).
				SetResult(&deployed).
				Post("/api/v1/instances")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusCreated))
			Expect(deployed.Status).To(Equal("RUNNING"))

			By("reading it back as the current instance")
			var current struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			}
			resp, err = api.R().SetResult(&current).Get("/api/v1/instances/current")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))
			Expect(current.ID).To(Equal(deployed.InstanceID))

			By("fetching its logs")
			var logs map[string]string
			resp, err = api.R().
				SetQueryParam("tail", "20").
				SetResult(&logs).
				Get("/api/v1/instances/" + deployed.InstanceID + "/logs")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusOK))

			By("stopping it")
			resp, err = api.R().Post("/api/v1/instances/" + deployed.InstanceID + "/stop")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode()).To(Equal(http.StatusNoContent))

			resp, err = api.R().SetResult(&current).Get("/api/v1/instances/current")
			Expect(err).NotTo(HaveOccurred())
			Expect(current.Status).To(Equal("STOPPED"))
		})
	})
})
