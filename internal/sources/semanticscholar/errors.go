package semanticscholar

import (
	"fmt"

	"github.com/rcliao/briefkg/internal/graph"
)

func newTransportError(status int) error {
	return graph.New(graph.KindTransport, fmt.Sprintf("http_%d", status), fmt.Errorf("semanticscholar: http %d", status))
}

func classifyTransportErr(err error) error {
	return graph.New(graph.KindTransport, "transport_timeout", err)
}
