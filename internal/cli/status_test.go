package cli

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayHealth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","clients":2}`))
	}))
	addr := strings.TrimPrefix(ts.URL, "http://")

	assert.Equal(t, "healthy, 2 clients", gatewayHealth(addr))

	ts.Close()
	assert.Equal(t, "unreachable", gatewayHealth(addr))
}
