//go:generate go run go.uber.org/mock/mockgen@latest -source=$GOFILE -destination=mocks/mock_$GOFILE -package=mock_domain NonceStore
package domain

import (
	"context"
	"time"
)

// Nonce is a recorded (context, nonce, timestamp) triple. The triple is the
// replay-detection primitive: it must be unique for the life of the maximum
// allowed message age.
type Nonce struct {
	Context   string    `bson:"context"   json:"context"` // recipient-scoped namespace
	Nonce     string    `bson:"nonce"     json:"nonce"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// NonceStore records nonce triples with at-most-once semantics.
type NonceStore interface {
	// Store records the triple. It must be a single atomic insert-if-absent:
	// of any number of concurrent calls presenting the same triple exactly one
	// succeeds and the rest return errors.ErrNonceUsed.
	Store(ctx context.Context, nonceContext, nonce string, timestamp time.Time) error

	// PurgeExpired removes triples whose timestamp falls outside the maximum
	// message age window ending at the given instant.
	PurgeExpired(ctx context.Context, olderThan time.Time) error
}
