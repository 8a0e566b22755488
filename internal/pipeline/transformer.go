package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// Tick is one scheduler message asking for a batch run. The payload is
// informational; an empty body is a valid tick.
type Tick struct {
	Source string `json:"source,omitempty"`
}

// TickTransformer unmarshals a scheduler message into a Tick. Malformed
// payloads are skipped so a poison message cannot wedge the
// subscription.
func TickTransformer(_ context.Context, msg *messagepipeline.Message) (*Tick, bool, error) {
	tick := &Tick{}
	if len(msg.Payload) == 0 {
		return tick, false, nil
	}
	if err := json.Unmarshal(msg.Payload, tick); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal scheduler tick from message %s: %w", msg.ID, err)
	}
	return tick, false, nil
}

// NewTickProcessor runs one queue batch per scheduler tick. Errors are
// returned to the pipeline so delivery semantics (nack/DLQ) apply.
func NewTickProcessor(processor *Processor, logger *slog.Logger) messagepipeline.StreamProcessor[Tick] {
	return func(ctx context.Context, original messagepipeline.Message, tick *Tick) error {
		tickLogger := logger.With("pubsub_msg_id", original.ID, "source", tick.Source)

		summary, err := processor.Run(ctx)
		if err != nil {
			tickLogger.Error("Scheduled batch run failed", "err", err)
			return err
		}

		tickLogger.Info("Scheduled batch run complete",
			"processed", summary.Processed,
			"successful", summary.Successful,
			"failed", summary.Failed)
		return nil
	}
}
