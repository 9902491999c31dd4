// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package control implements the daemon controller command set and the
// legacy line-oriented unix socket that carries it.
//
// A request is one line. A line whose first non-space byte is '{' is a JSON
// object {command, daemon?, args?, state_name?}; anything else is the legacy
// form "command[;arg...]". Responses use the format of the request.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCommand   = errors.New("empty command")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMissingDaemon  = errors.New("command requires a daemon")
	ErrMissingState   = errors.New("command requires a state name")
	ErrInvalidField   = errors.New("field contains a separator")
)

// Kind names a control command.
type Kind string

const (
	CmdStartup    Kind = "startup"
	CmdShutdown   Kind = "shutdown"
	CmdStatus     Kind = "status"
	CmdCheck      Kind = "check"
	CmdLogrot     Kind = "logrot"
	CmdVersion    Kind = "version"
	CmdStart      Kind = "start"
	CmdStop       Kind = "stop"
	CmdRestart    Kind = "restart"
	CmdReload     Kind = "reload"
	CmdPkgStart   Kind = "pkg_start"
	CmdPkgStop    Kind = "pkg_stop"
	CmdPkgRestart Kind = "pkg_restart"
	CmdState      Kind = "state"
)

// Kinds lists every command in wire order.
var Kinds = []Kind{
	CmdStartup, CmdShutdown, CmdStatus, CmdCheck, CmdLogrot, CmdVersion,
	CmdStart, CmdStop, CmdRestart, CmdReload,
	CmdPkgStart, CmdPkgStop, CmdPkgRestart, CmdState,
}

func (k Kind) known() bool {
	for _, v := range Kinds {
		if v == k {
			return true
		}
	}
	return false
}

// TargetsDaemon reports whether k addresses a single daemon.
func (k Kind) TargetsDaemon() bool {
	switch k {
	case CmdStart, CmdStop, CmdRestart, CmdReload:
		return true
	}
	return false
}

// Command is one parsed request.
type Command struct {
	Kind      Kind     `json:"command"`
	Daemon    string   `json:"daemon,omitempty"`
	Args      []string `json:"args,omitempty"`
	StateName string   `json:"state_name,omitempty"`
}

// Validate checks the fields required by c.Kind.
func (c Command) Validate() error {
	switch {
	case c.Kind == "":
		return ErrEmptyCommand
	case !c.Kind.known():
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(c.Kind))
	case c.Kind.TargetsDaemon() && strings.TrimSpace(c.Daemon) == "":
		return fmt.Errorf("%w: %s", ErrMissingDaemon, c.Kind)
	case c.Kind == CmdState && strings.TrimSpace(c.StateName) == "":
		return ErrMissingState
	}
	return nil
}

// Format is the wire encoding of a request or response.
type Format string

const (
	FormatLegacy Format = "legacy"
	FormatJSON   Format = "json"
)

// DetectFormat reports FormatJSON when the first non-space byte is '{'.
func DetectFormat(line string) Format {
	if strings.HasPrefix(strings.TrimLeft(line, " \t\r\n"), "{") {
		return FormatJSON
	}
	return FormatLegacy
}

// Parse decodes a request line in either format.
func Parse(line string) (Command, Format, error) {
	if DetectFormat(line) == FormatJSON {
		c, err := ParseJSON([]byte(line))
		return c, FormatJSON, err
	}
	c, err := ParseLegacy(line)
	return c, FormatLegacy, err
}

// ParseLegacy decodes "command[;daemon[;arg...]]" or "state;name".
func ParseLegacy(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return Command{}, ErrEmptyCommand
	}
	fields := strings.Split(line, ";")
	c := Command{Kind: Kind(strings.ToLower(strings.TrimSpace(fields[0])))}
	rest := fields[1:]

	switch {
	case c.Kind == CmdState:
		if len(rest) > 0 {
			c.StateName = rest[0]
		}
	case c.Kind.TargetsDaemon():
		if len(rest) > 0 {
			c.Daemon = rest[0]
		}
		if len(rest) > 1 {
			c.Args = append([]string(nil), rest[1:]...)
		}
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// FormatLegacyCommand encodes c as a legacy request line without the newline.
func FormatLegacyCommand(c Command) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	fields := []string{string(c.Kind)}
	switch {
	case c.Kind == CmdState:
		fields = append(fields, c.StateName)
	case c.Kind.TargetsDaemon():
		fields = append(fields, c.Daemon)
		fields = append(fields, c.Args...)
	}
	for _, f := range fields {
		if strings.ContainsAny(f, ";\r\n") {
			return "", fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
	}
	return strings.Join(fields, ";"), nil
}

// ParseJSON decodes a JSON request.
func ParseJSON(b []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(b, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	c.Kind = Kind(strings.ToLower(strings.TrimSpace(string(c.Kind))))
	if len(c.Args) == 0 {
		c.Args = nil
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Response is the reply envelope shared by both surfaces.
type Response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK builds a successful response. data is marshalled when non-nil.
func OK(msg string, data any) Response {
	r := Response{Success: true, Message: msg}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			r.Data = b
		}
	}
	return r
}

// Fail builds an error response.
func Fail(msg string) Response { return Response{Message: msg} }

// Encode renders r in format f without the trailing newline.
func (r Response) Encode(f Format) string {
	if f == FormatJSON {
		b, err := json.Marshal(r)
		if err != nil {
			return `{"success":false,"message":"encode response"}`
		}
		return string(b)
	}
	msg := strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Message)
	if r.Success {
		return "OK;" + msg
	}
	return "ERR;" + msg
}

// DecodeResponse parses a response line in either format.
func DecodeResponse(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	if DetectFormat(line) == FormatJSON {
		var r Response
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return Response{}, fmt.Errorf("decode response: %w", err)
		}
		return r, nil
	}
	status, msg, _ := strings.Cut(line, ";")
	switch status {
	case "OK":
		return Response{Success: true, Message: msg}, nil
	case "ERR":
		return Response{Message: msg}, nil
	}
	return Response{}, fmt.Errorf("decode response: unexpected status %q", status)
}

func encodeJSONCommand(c Command) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
