package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	MsgsSent           atomic.Int64 // signaling messages written to the channel
	MsgsRecv           atomic.Int64 // signaling messages delivered to the engine
	BytesSent          atomic.Int64 // signaling bytes written
	BytesRecv          atomic.Int64 // signaling bytes read
	CandidatesBuffered atomic.Int64 // remote candidates held back until a remote description
	CandidatesApplied  atomic.Int64 // remote candidates handed to the transport
	Negotiations       atomic.Int64 // completed offer/answer rounds
}

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddBuffered()    { s.CandidatesBuffered.Add(1) }
func (s *stats) AddApplied()     { s.CandidatesApplied.Add(1) }
func (s *stats) AddNegotiation() { s.Negotiations.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MsgsSent.Load()
				recv := Stats.MsgsRecv.Load()

				if sent != prevSent || recv != prevRecv {
					pterm.DefaultLogger.Info(formatStats(
						sent, recv,
						Stats.BytesSent.Load(), Stats.BytesRecv.Load(),
						Stats.CandidatesBuffered.Load(), Stats.CandidatesApplied.Load(),
						Stats.Negotiations.Load(),
					))
				}

				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(sent, recv, bytesSent, bytesRecv, buffered, applied, rounds int64) string {
	return fmt.Sprintf("Msgs: %d↑ %d↓ (%s / %s) | ICE: %d buffered, %d applied | Rounds: %d",
		sent, recv,
		formatBytes(float64(bytesSent)),
		formatBytes(float64(bytesRecv)),
		buffered, applied, rounds,
	)
}
