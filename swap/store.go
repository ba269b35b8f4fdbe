package swap

import "context"

// Store persists swap records. Implementations must serialize Update calls
// per swap identifier; the stepper relies on that to keep step ordering and
// completion counting consistent under concurrent requests.
type Store interface {
	// Create persists a new record. It fails if the identifier exists.
	Create(ctx context.Context, record *Record) error
	// Get returns a deep copy of the record.
	Get(ctx context.Context, id string) (*Record, error)
	// Update loads the record, runs fn on it under the record's lock and
	// persists the mutation when fn returns nil. fn errors abort the write.
	Update(ctx context.Context, id string, fn func(*Record) error) (*Record, error)
	// List returns copies of all records.
	List(ctx context.Context) ([]*Record, error)
	// Delete removes a record. Implementations refuse deletion while the
	// record is non-terminal and its refund timelock has not elapsed.
	Delete(ctx context.Context, id string) error
}
