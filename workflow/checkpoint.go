package workflow

import (
	"time"

	"github.com/aksrustagi/coordinator/id"
)

// Checkpoint stores the JSON-encoded outcome of a completed step, timer
// or condition wait, enabling replay after a restart.
type Checkpoint struct {
	ID        id.CheckpointID `json:"id"`
	RunID     id.RunID        `json:"run_id"`
	StepName  string          `json:"step_name"`
	Data      []byte          `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}
