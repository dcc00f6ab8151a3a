package conn

import "time"

// HeartbeatPolicy is the supplemented feature described in SPEC_FULL.md
// §4.12, adapted from the teacher's ClientTransport.heartbeatLoop
// (transport/client_transport.go): a ticker that periodically sends a
// heartbeat TransportData to detect dead duplex connections. Disabled by
// default, matching ClientOptions.heartbeat=false (spec.md §6). HTTP never
// installs one — it is stateless and per-request.
type HeartbeatPolicy struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
}
