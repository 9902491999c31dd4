// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Client is one connection to the control socket. The server closes the
// connection after a single reply, so a Client is used for exactly one Send.
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial control socket: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return &Client{conn: conn}, nil
}

// Send writes c as JSON and decodes the reply.
func (c *Client) Send(cmd Command) (Response, error) {
	line, err := encodeJSONCommand(cmd)
	if err != nil {
		_ = c.Close()
		return Response{}, err
	}
	reply, err := c.SendRaw(line)
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(reply)
}

// SendRaw writes one line verbatim and returns the reply line.
func (c *Client) SendRaw(line string) (string, error) {
	defer c.Close()
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}
	reply, err := bufio.NewReader(c.conn).ReadString('\n')
	if err != nil && reply == "" {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Do dials path, sends cmd and returns the reply, bounded by timeout.
func Do(ctx context.Context, path string, timeout time.Duration, cmd Command) (Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c, err := Dial(ctx, path)
	if err != nil {
		return Response{}, err
	}
	return c.Send(cmd)
}
