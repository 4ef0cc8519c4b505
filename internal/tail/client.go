package tail

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mohammad-safakhou/meetingmind/models"
)

// Event is a decoded live event.
type Event struct {
	Type     string
	Segment  models.Segment
	Insights models.Insights
	Result   models.MeetingResult
}

// Client reads one meeting's event feed.
type Client struct {
	conn *websocket.Conn
}

// EventsURL builds the subscriber socket URL from an http(s) base.
func EventsURL(base, meetingID, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/meetings/" + meetingID + "/events"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the meeting's event feed.
func Dial(rawURL string) (*Client, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := d.Dial(rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial events: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("dial events: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
		conn.Close()
		return nil, fmt.Errorf("dial events: unexpected status %s", resp.Status)
	}
	return &Client{conn: conn}, nil
}

// Next blocks for the next event.
func (c *Client) Next() (Event, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	return Decode(data)
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Decode parses one event frame.
func Decode(data []byte) (Event, error) {
	var raw struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := Event{Type: raw.Type}
	var err error
	switch raw.Type {
	case models.EventTranscript:
		err = json.Unmarshal(raw.Data, &ev.Segment)
	case models.EventInsights:
		err = json.Unmarshal(raw.Data, &ev.Insights)
	case models.EventFinalized:
		err = json.Unmarshal(raw.Data, &ev.Result)
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s: %w", raw.Type, err)
	}
	return ev, nil
}
