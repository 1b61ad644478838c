package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/mkrall/momentum/internal/momentum"
	"github.com/mkrall/momentum/internal/reconciler"
)

// Client communicates with the daemon over a Unix domain socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client that connects to the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Ping tests if the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.send(Request{Command: "ping"}, c.timeout)
	return err
}

// Status returns the daemon's status data.
func (c *Client) Status() (*StatusData, error) {
	resp, err := c.send(Request{Command: "status"}, c.timeout)
	if err != nil {
		return nil, err
	}

	var status StatusData
	if err := decodeData(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestStop asks the daemon to shut down gracefully.
func (c *Client) RequestStop() error {
	_, err := c.send(Request{Command: "stop"}, c.timeout)
	return err
}

// Sync runs a sync pass now and returns its report. A pass can take far
// longer than an ordinary request, so the timeout is generous.
func (c *Client) Sync() (*reconciler.SyncReport, error) {
	resp, err := c.send(Request{Command: "sync"}, 5*time.Minute)
	if err != nil {
		return nil, err
	}

	var report reconciler.SyncReport
	if err := decodeData(resp, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Score returns momentum snapshots. entityID 0 means all projects.
func (c *Client) Score(entityID int64) ([]momentum.Snapshot, error) {
	req := Request{Command: "score"}
	if entityID != 0 {
		req.Args = map[string]string{"id": strconv.FormatInt(entityID, 10)}
	}

	resp, err := c.send(req, c.timeout)
	if err != nil {
		return nil, err
	}

	var snaps []momentum.Snapshot
	if err := decodeData(resp, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Orphans returns every flagged sync unit: conflicts awaiting resolution
// plus orphaned files and rows.
func (c *Client) Orphans() (*FlaggedData, error) {
	resp, err := c.send(Request{Command: "orphans"}, c.timeout)
	if err != nil {
		return nil, err
	}

	var flagged FlaggedData
	if err := decodeData(resp, &flagged); err != nil {
		return nil, err
	}
	return &flagged, nil
}

// Resolve picks a winner ("db" or "file") for a manually flagged conflict.
func (c *Client) Resolve(path, winner string) error {
	_, err := c.send(Request{
		Command: "resolve",
		Args:    map[string]string{"path": path, "winner": winner},
	}, c.timeout)
	return err
}

// decodeData re-marshals the generic response payload into a typed value.
func decodeData(resp *Response, out interface{}) error {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response data: %w", err)
	}
	return nil
}

// send dials the socket, sends a JSON request, reads the JSON response.
func (c *Client) send(req Request, timeout time.Duration) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	// Send request.
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	// Read response.
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("empty response from daemon")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}

	return &resp, nil
}
