package main

import (
	"fmt"
	"os"
	"strings"

	cli "github.com/spf13/pflag"

	"omni/internal/ipc"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  omni-ctl status
  omni-ctl ask <question...>
  omni-ctl ingest <audio file>`)
	os.Exit(2)
}

func main() {
	socketPath := cli.String("socket", ipc.DefaultSocketPath, "Control socket path")
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		usage()
	}

	req := ipc.Request{Cmd: args[0]}
	switch req.Cmd {
	case "status":
	case "ask":
		if len(args) < 2 {
			usage()
		}
		req.Arg = strings.Join(args[1:], " ")
	case "ingest":
		if len(args) != 2 {
			usage()
		}
		req.Arg = args[1]
	default:
		usage()
	}

	resp, err := ipc.Send(*socketPath, req)
	if err != nil {
		fmt.Println("omni-daemon not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Fprintln(os.Stderr, resp.Err)
		os.Exit(1)
	}
	fmt.Println(resp.Body)
}
