package relay

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Stat names found in the map returned by Relay.Stats.
const (
	StatConnections      = "connections"
	StatAccepted         = "accepted"
	StatRejected         = "rejected"
	StatDisconnected     = "disconnected"
	StatMessages         = "messages"
	StatDeliveries       = "deliveries"
	StatDeliveryFailures = "delivery_failures"
)

type stats struct {
	accepted     atomic.Int64
	rejected     atomic.Int64
	disconnected atomic.Int64
	messages     atomic.Int64
	deliveries   atomic.Int64
	failures     atomic.Int64
}

func (s *stats) snapshot() map[string]int64 {
	return map[string]int64{
		StatAccepted:         s.accepted.Load(),
		StatRejected:         s.rejected.Load(),
		StatDisconnected:     s.disconnected.Load(),
		StatMessages:         s.messages.Load(),
		StatDeliveries:       s.deliveries.Load(),
		StatDeliveryFailures: s.failures.Load(),
	}
}

// StatsHandler returns an HTTP handler that sends a JSON representation of
// the relay's stats to the request initiator.
func StatsHandler(r *Relay) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload, err := json.MarshalIndent(r.Stats(), "", "  ")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	})
}
