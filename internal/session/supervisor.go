package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// supervise ends the session on its own when the encoder exits (duration cap
// or write failure) or the device reports a fault. An explicit Stop takes the
// session first, in which case supervise only returns.
func (c *Controller) supervise(a *activeSession) {
	var (
		reason Reason
		cause  error
	)

	select {
	case <-a.stop:
		return
	case <-a.encoderDone:
		reason = ReasonDurationCap
		if a.encErr != nil {
			reason = ReasonWriteError
			cause = a.encErr
		} else if !a.summary.Capped {
			reason = ReasonStopped
		}
	case err := <-a.device.Faults():
		reason = ReasonDeviceFault
		cause = err
		if cause == nil {
			cause = errors.New("capture device closed")
		}
	}

	c.acquire(context.Background())
	if c.state.active != a {
		c.release()
		return
	}
	c.detachLocked()
	c.release()

	switch reason {
	case ReasonDurationCap:
		a.logger.Info("Maximum duration reached, stopping recording", "path", a.path)
	default:
		a.logger.Warn("Recording ended unexpectedly", "path", a.path, "reason", reason, "error", cause)
	}

	go a.shutdown()

	ended := Ended{SessionID: a.id, Path: a.path, Reason: reason, Err: cause}
	select {
	case <-a.done:
		ended.Summary = a.summary
		if ended.Err == nil && a.err != nil {
			ended.Err = fmt.Errorf("%w: %w", ErrIO, a.err)
		}
	case <-time.After(c.opts.FinalizeTimeout):
		a.cancel()
		ended.Err = errors.Join(ended.Err, fmt.Errorf("%w: %s", ErrFinalizeTimeout, a.path))
	}

	c.opts.Events.SessionEnded(ended)
}
