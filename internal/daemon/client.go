package daemon

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// DefaultSocketPath returns the default daemon socket path.
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/diaglog-daemon.sock"
	}
	return filepath.Join(home, ".diaglog", "daemon.sock")
}

// Client connects to a daemon via Unix socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// Connect connects to a daemon at the given socket path.
func Connect(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB buffer

	return &Client{
		conn:    conn,
		scanner: scanner,
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Status requests the daemon's current status.
func (c *Client) Status() (*StatusResponse, error) {
	payload, err := c.call(TypeStatusRequest, TypeStatusResponse)
	if err != nil {
		return nil, err
	}

	resp, err := DecodePayload[StatusResponse](payload)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

// Flush asks the daemon to write its buffer to disk.
func (c *Client) Flush() (string, error) {
	return c.ack(TypeFlushRequest)
}

// DeleteAll asks the daemon to clear the active file and remove all archives.
func (c *Client) DeleteAll() (string, error) {
	return c.ack(TypeDeleteRequest)
}

// Enable starts log collection.
func (c *Client) Enable() (string, error) {
	return c.ack(TypeEnableRequest)
}

// Disable stops log collection and clears the active file.
func (c *Client) Disable() (string, error) {
	return c.ack(TypeDisableRequest)
}

func (c *Client) ack(reqType string) (string, error) {
	payload, err := c.call(reqType, TypeAck)
	if err != nil {
		return "", err
	}
	a, err := DecodePayload[Ack](payload)
	if err != nil {
		return "", err
	}
	return a.Message, nil
}

// call sends a request and waits for a reply of the wanted type.
func (c *Client) call(reqType, wantType string) (json.RawMessage, error) {
	if err := c.send(reqType, nil); err != nil {
		return nil, err
	}

	msgType, payload, err := c.recv()
	if err != nil {
		return nil, err
	}

	if msgType == TypeError {
		errMsg, _ := DecodePayload[Error](payload)
		return nil, fmt.Errorf("daemon error: %s", errMsg.Message)
	}

	if msgType != wantType {
		return nil, fmt.Errorf("unexpected response type: %s", msgType)
	}
	return payload, nil
}

// send sends a message to the daemon.
func (c *Client) send(msgType string, payload any) error {
	data, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(append(data, '\n'))
	return err
}

// recv receives a message from the daemon.
func (c *Client) recv() (string, json.RawMessage, error) {
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("connection closed")
	}
	return Decode(c.scanner.Bytes())
}

// IsDaemonRunning checks if a daemon is running at the given socket path.
func IsDaemonRunning(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
