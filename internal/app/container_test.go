package app

import (
	"errors"
	"testing"

	"github.com/ingestkit/docbridge/internal/config"
	"github.com/ingestkit/docbridge/internal/nim"
)

func TestBuildRunnerProtocolDispatch(t *testing.T) {
	deplot := nim.NewDeplot(nim.DeplotOptions{})

	if _, err := buildRunner(deplot, config.ModelEndpointConfig{Protocol: "grpc", Endpoint: "http://triton:8000"}); err != nil {
		t.Fatalf("grpc runner: %v", err)
	}
	// Protocol strings are normalized before dispatch.
	if _, err := buildRunner(deplot, config.ModelEndpointConfig{Protocol: " HTTP ", Endpoint: "http://nim:8080"}); err != nil {
		t.Fatalf("http runner: %v", err)
	}
	if _, err := buildRunner(deplot, config.ModelEndpointConfig{Protocol: "websocket", Endpoint: "http://x"}); !errors.Is(err, nim.ErrUnsupportedProtocol) {
		t.Fatalf("expected unsupported protocol error, got %v", err)
	}
}
