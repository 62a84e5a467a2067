package receiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gosrc.io/xmpp/stanza"
)

// pendingPings tracks in-flight XEP-0199 pings by stanza id, so a late or
// missing IQ result can be correlated back to the moment it was sent.
type pendingPings struct {
	mu   sync.Mutex
	sent map[string]time.Time
}

func newPendingPings() *pendingPings {
	return &pendingPings{sent: make(map[string]time.Time)}
}

func (p *pendingPings) record(id string, at time.Time) {
	p.mu.Lock()
	p.sent[id] = at
	p.mu.Unlock()
}

func (p *pendingPings) resolve(id string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.sent[id]
	if ok {
		delete(p.sent, id)
	}
	return at, ok
}

func (p *pendingPings) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *pendingPings) clear() {
	p.mu.Lock()
	p.sent = make(map[string]time.Time)
	p.mu.Unlock()
}

// keepaliveLoop sends a liveness ping every cfg.KeepaliveInterval (spec
// §4.4). Two consecutive unanswered pings are treated as a dead connection
// and force a reconnect by disconnecting the underlying client, letting the
// StreamManager's own reconnect logic take back over.
func (r *Receiver) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.KeepaliveInterval)
	defer ticker.Stop()

	consecutiveMisses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if r.pings.outstanding() >= 1 {
				consecutiveMisses++
			} else {
				consecutiveMisses = 0
			}
			r.pings.clear()

			if consecutiveMisses >= 2 {
				r.logger.Warn().Msg("two consecutive keepalive pings unanswered, forcing reconnect")
				if r.client != nil {
					_ = r.client.Disconnect()
				}
				consecutiveMisses = 0
				continue
			}

			r.sendPing()
		}
	}
}

func (r *Receiver) sendPing() {
	if r.client == nil {
		return
	}
	id := fmt.Sprintf("ping-%d", time.Now().UnixNano())
	r.pings.record(id, time.Now())

	err := r.client.Send(stanza.IQ{
		Attrs:   stanza.Attrs{Type: "get", To: nwwsDomain, Id: id},
		Payload: &stanza.Ping{},
	})
	if err != nil {
		r.logger.Debug().Err(err).Msg("failed to send keepalive ping")
	}
}
