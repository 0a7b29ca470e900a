package cvae

import "fmt"

// ShapeError reports an input whose length does not match the model. Callers
// get it before any arithmetic runs.
type ShapeError struct {
	Op   string
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: vector length mismatch: got=%d want=%d", e.Op, e.Got, e.Want)
}

// DivergedError means every batch of an epoch produced a non-finite loss, so
// continuing would only burn cycles on skipped updates.
type DivergedError struct {
	Epoch          int
	SkippedBatches int
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d: all %d batches had non-finite loss", e.Epoch, e.SkippedBatches)
}
