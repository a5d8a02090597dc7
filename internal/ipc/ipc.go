// Package ipc is the local control channel between omni-ctl and the
// daemon: one JSON request and one JSON response per unix-socket
// connection.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
)

const DefaultSocketPath = "/tmp/omni.sock"

type Request struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
}

type Response struct {
	OK   bool   `json:"ok"`
	Body string `json:"body,omitempty"`
	Err  string `json:"err,omitempty"`
}

func Errorf(format string, args ...any) Response {
	return Response{Err: fmt.Sprintf(format, args...)}
}

func Body(body string) Response {
	return Response{OK: true, Body: body}
}

type Handler func(req Request) Response

// StartServer listens on path until ctx is cancelled. Each connection
// carries exactly one request.
func StartServer(ctx context.Context, path string, handler Handler) error {
	os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", path, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(path)
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}
			go handleConn(conn, handler)
		}
	}()

	return nil
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(Errorf("bad request: %v", err))
		return
	}

	json.NewEncoder(conn).Encode(handler(req))
}

// Send dials the daemon, sends one request and waits for the response.
func Send(path string, req Request) (Response, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
