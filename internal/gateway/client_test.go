package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/botforge-cloud/instance-manager/internal/gateway"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Client", func() {
	var (
		ctx    context.Context
		client *gateway.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = gateway.NewClient()
	})

	Describe("ListSessions", func() {
		It("authenticates with the gateway token and decodes the sessions", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/api/sessions"))
				Expect(r.Header.Get("Authorization")).To(Equal("Bearer tok-123"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`[{"id":"s1","channel":"telegram","peerName":"alice"}]`))
			}))
			defer server.Close()

			sessions := client.ListSessions(ctx, server.URL, "tok-123")
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].ID).To(Equal("s1"))
			Expect(sessions[0].Channel).To(Equal("telegram"))
		})

		It("degrades to empty when the instance is unreachable", func() {
			Expect(client.ListSessions(ctx, "http://127.0.0.1:1", "tok-123")).To(BeEmpty())
		})

		It("degrades to empty on an error status", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			}))
			defer server.Close()

			Expect(client.ListSessions(ctx, server.URL, "wrong-token")).To(BeEmpty())
		})
	})

	Describe("Status", func() {
		It("decodes the runtime status", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/api/status"))
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"online":true,"version":"1.4.2","channels":["telegram"]}`))
			}))
			defer server.Close()

			status := client.Status(ctx, server.URL, "tok-123")
			Expect(status.Online).To(BeTrue())
			Expect(status.Version).To(Equal("1.4.2"))
		})

		It("degrades to offline on failure", func() {
			status := client.Status(ctx, "http://127.0.0.1:1", "tok-123")
			Expect(status.Online).To(BeFalse())
		})
	})
})
