// Package replay re-sends recorded event envelopes to a running hub.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"rescueops-hub/internal/hub"
)

// Record is one line of a recording. At is optional; records without it are
// sent without delay.
type Record struct {
	At time.Time `json:"at,omitempty"`
	hub.Envelope
}

// Sender delivers one envelope.
type Sender interface {
	Send(ctx context.Context, env hub.Envelope) error
}

// Log replays records from r to s. A speed >0 scales the recorded pacing
// (2 plays twice as fast); speed <= 0 sends as fast as possible. It returns
// the number of envelopes sent.
func Log(ctx context.Context, r io.Reader, s Sender, speed float64) (int, error) {
	dec := json.NewDecoder(r)
	var prev time.Time
	sent := 0
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return sent, nil
			}
			return sent, fmt.Errorf("record %d: %w", sent+1, err)
		}
		if rec.Event == "" {
			return sent, fmt.Errorf("record %d: missing event", sent+1)
		}
		if !prev.IsZero() && !rec.At.IsZero() && speed > 0 {
			diff := rec.At.Sub(prev)
			if speed != 1 {
				diff = time.Duration(float64(diff) / speed)
			}
			if err := sleep(ctx, diff); err != nil {
				return sent, err
			}
		}
		if err := s.Send(ctx, rec.Envelope); err != nil {
			return sent, err
		}
		sent++
		if !rec.At.IsZero() {
			prev = rec.At
		}
	}
}

// File opens path and replays it.
func File(ctx context.Context, path string, s Sender, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return Log(ctx, f, s, speed)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WSSender writes envelopes to a websocket connection.
type WSSender struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// Dial connects to the hub's event channel at url.
func Dial(ctx context.Context, url string) (*WSSender, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &WSSender{conn: conn, writeTimeout: 5 * time.Second}, nil
}

func (w *WSSender) Send(_ context.Context, env hub.Envelope) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(env)
}

// Close sends a close frame and closes the connection.
func (w *WSSender) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}
