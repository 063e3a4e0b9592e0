package recorder

import (
	"context"
	"time"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

// Noop is the recorder used when persistence is disabled.
type Noop struct{}

var _ schemas.Recorder = Noop{}

func (Noop) RecordSessionStart(context.Context, schemas.Session) error { return nil }

func (Noop) RecordStepCompletion(context.Context, string, schemas.Instruction, time.Time) error {
	return nil
}

func (Noop) RecordFailure(context.Context, string, schemas.Stage, error) error { return nil }
