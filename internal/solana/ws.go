package solana

import "context"

// WSClient defines Solana WebSocket subscription interface.
type WSClient interface {
	// SubscribeSignature waits for a signature to reach the client's commitment.
	// The channel receives at most one notification and is then closed.
	// It is also closed without a value if the connection drops.
	SubscribeSignature(ctx context.Context, signature string) (<-chan SignatureNotification, error)

	// Unsubscribe ends the subscription for signature, closing its channel.
	// It is a no-op when none is active.
	Unsubscribe(signature string)

	// Close closes the WebSocket connection.
	Close() error
}

// SignatureNotification represents a signatureSubscribe message.
type SignatureNotification struct {
	Signature string
	Slot      int64
	Err       interface{} // nil if the transaction succeeded
}
