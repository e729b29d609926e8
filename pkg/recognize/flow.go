package recognize

import (
	"context"
	"runtime"
	"time"
)

// afterSend holds the writer until the connection's outbound buffer is at or
// below the high-water mark. Connections that implement DrainNotifier wake it
// early; the poll interval bounds each wait either way.
func (s *Stream) afterSend(ctx context.Context, conn Conn) error {
	var drained <-chan struct{}
	if dn, ok := conn.(DrainNotifier); ok {
		drained = dn.Drained()
	}
	for conn.BufferedAmount() > s.opts.HighWaterMark {
		timer := time.NewTimer(s.opts.PollInterval)
		select {
		case <-drained:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	runtime.Gosched()
	return nil
}
