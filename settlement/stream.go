package settlement

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/nostrstack/paywatch/payment"
)

// runStream keeps the real-time channel open until the generation retires.
// Each failed attempt reports ERROR and polls once so a payment made while
// the channel is down is still noticed.
func (w *Watcher) runStream(ctx context.Context, gen uint64) {
	policy := backoff.WithContext(w.cfg.NewBackoff(), ctx)
	logger := w.logger.WithField("url", w.cfg.StreamURL)

	for {
		if !w.transition(gen, payment.ConnectionConnecting) {
			return
		}

		conn, resp, err := w.cfg.Dialer.DialContext(ctx, w.cfg.StreamURL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil {
			policy.Reset()
			err = w.serve(ctx, gen, conn)
			if ctx.Err() != nil || !w.current(gen) {
				return
			}
			logger.WithError(err).Info("settlement channel closed")
		} else {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).WithField("kind", "network").Warn("could not open settlement channel")
		}

		if !w.transition(gen, payment.ConnectionError) {
			return
		}
		w.pollOnce(ctx, gen)

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-w.cfg.Clock.TickAfter(wait):
		}
	}
}

// serve reads frames from an open channel until it fails.
func (w *Watcher) serve(ctx context.Context, gen uint64, conn *websocket.Conn) error {
	w.mu.Lock()
	if gen != w.generation || w.destroyed {
		w.mu.Unlock()
		_ = conn.Close()

		return context.Canceled
	}
	w.conn = conn
	w.transitionLocked(payment.ConnectionOpen)
	w.mu.Unlock()

	done := make(chan struct{})
	defer func() {
		close(done)
		_ = conn.Close()

		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			_ = conn.Close()
		case <-done:
		}
	}()

	w.keepAlive(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := ParseMessage(raw)
		if err != nil {
			w.logger.WithError(err).WithField("kind", "protocol").Warn("ignoring settlement frame")

			continue
		}
		w.deliver(gen, msg, SourceStream)
	}
}

// keepAlive pings the server and expects a pong within PongWait, the same
// read deadline scheme the lnd REST proxy uses on its side.
func (w *Watcher) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	interval, pongWait := w.cfg.PingInterval, w.cfg.PongWait

	_ = conn.SetReadDeadline(time.Now().Add(interval + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(interval + pongWait))
	})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait))
				if err != nil {
					return
				}
			}
		}
	}()
}
