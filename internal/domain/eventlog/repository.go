package eventlog

import "context"

// Repository defines reconciler bookkeeping persistence. MarkProcessed is
// insert-if-absent on (source, txId, logIndex) and returns false when the
// event was already applied.
type Repository interface {
	MarkProcessed(ctx context.Context, ev ProcessedEvent) (bool, error)
	Park(ctx context.Context, dl *DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)
	GetCursor(ctx context.Context, name string) (uint64, error)
	SetCursor(ctx context.Context, name string, position uint64) error
}
