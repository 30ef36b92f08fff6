package history

import (
	"context"

	"github.com/harun/runcore/pkg/protocol"
)

// Recorder drains a message subscription into a Store.
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Run appends every message received on ch until ch is closed or ctx is
// done. Append failures are logged and do not stop the recorder.
func (r *Recorder) Run(ctx context.Context, ch <-chan protocol.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := r.store.Append(context.WithoutCancel(ctx), msg); err != nil {
				r.store.logger.Error().
					Err(err).
					Str("run_id", msg.Header().RunID).
					Str("type", string(msg.Kind())).
					Msg("Failed to record message")
			}
		}
	}
}
