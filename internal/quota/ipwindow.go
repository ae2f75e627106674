package quota

import "time"

// IPRequestsPerMinute is the fixed budget for unauthenticated clients.
const IPRequestsPerMinute = 30.0

// IPWindow counts unauthenticated requests from one client IP inside a fixed
// 60-second window. A plain counter is enough here: unauthenticated traffic
// gets no burst accommodation and the reset keeps the float from drifting.
type IPWindow struct {
	IP          string
	WindowStart time.Time
	Count       float64
	LastSeen    time.Time
}

func newIPWindow(ip string, cost float64, now time.Time) *IPWindow {
	return &IPWindow{
		IP:          ip,
		WindowStart: now,
		Count:       cost,
		LastSeen:    now,
	}
}

// allow admits the request if the window, after any reset, still has room for
// cost more requests.
func (w *IPWindow) allow(cost float64, now time.Time) bool {
	w.LastSeen = now

	if now.Sub(w.WindowStart) > time.Minute {
		w.WindowStart = now
		w.Count = cost
		return true
	}

	if w.Count+cost > IPRequestsPerMinute {
		return false
	}

	w.Count += cost
	return true
}

// remaining reports the whole requests left in the current window.
func (w *IPWindow) remaining() uint64 {
	left := IPRequestsPerMinute - w.Count
	if left < 0 {
		return 0
	}
	return uint64(left)
}
