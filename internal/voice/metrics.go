package voice

import (
	"context"
	"log/slog"
	"time"
)

// Stats returns the datagram/byte counters accumulated since the last call
// and resets them.
func (s *Server) Stats() (datagramsIn, bytesIn, datagramsOut, bytesOut uint64, users int) {
	datagramsIn = s.datagramsIn.Swap(0)
	bytesIn = s.bytesIn.Swap(0)
	datagramsOut = s.datagramsOut.Swap(0)
	bytesOut = s.bytesOut.Swap(0)
	users = s.userCount()
	return
}

// RunMetrics logs traffic stats every interval until ctx is canceled. Idle
// intervals are skipped.
func (s *Server) RunMetrics(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			din, bin, dout, bout, users := s.Stats()
			if users == 0 && din == 0 {
				continue
			}
			slog.Info("traffic stats",
				"users", users,
				"datagrams_in", din,
				"datagrams_out", dout,
				"kbps_in", float64(bin)/interval.Seconds()/1024*8,
				"kbps_out", float64(bout)/interval.Seconds()/1024*8,
			)
		}
	}
}
