package session

//go:generate mockgen -destination mock_transport_test.go -package session -write_package_comment=false github.com/danmuck/fedlink/internal/protocol/session Transport

import (
	"context"

	"github.com/danmuck/fedlink/internal/protocol"
)

// Transport is the wireless link capability the session drives. Connection
// management, retries and addressing belong to the implementation.
//
// Notifications for one endpoint must be delivered in the order the peer sent
// them. Handlers may be invoked from any goroutine.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(ctx context.Context, endpoint protocol.Endpoint, handler func(payload []byte)) error
	// Write sends payload to endpoint. With requireAck the call returns only
	// after the peer acknowledged the write.
	Write(ctx context.Context, endpoint protocol.Endpoint, payload []byte, requireAck bool) error
}
