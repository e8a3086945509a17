package messaging

import "context"

// BindingElement is one pluggable security transform in the channel pipeline.
//
// Both prepare methods return (false, nil) when the element does not apply to
// the message (wrong message shape, wrong algorithm, insecure transport for a
// plaintext signer), (true, nil) when the transform was applied or verified,
// and an error for a protocol fault. Not-applicable is a normal outcome, not
// an error: it lets several candidate elements for the same protection be
// chained and tried in order.
type BindingElement interface {
	// Protection returns the protections this element can contribute.
	Protection() Protections

	// PrepareOutgoing applies the transform to a message about to be sent.
	PrepareOutgoing(ctx context.Context, m Message) (bool, error)

	// PrepareIncoming verifies the transform on a received message.
	PrepareIncoming(ctx context.Context, m Message) (bool, error)
}
