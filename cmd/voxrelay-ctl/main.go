package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"voxrelay/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocket, "Control socket path")
	limit := cli.IntP("limit", "n", 10, "Entries for recent")
	timeout := cli.DurationP("timeout", "t", 5*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: voxrelay-ctl [flags] ping|status|recent\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdStatus
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var out json.RawMessage
	if err := ipc.Call(ctx, *socket, ipc.Request{Cmd: cmd, Limit: *limit}, &out); err != nil {
		fmt.Fprintln(os.Stderr, "voxrelay-ctl:", err)
		os.Exit(1)
	}

	var pretty any
	if err := json.Unmarshal(out, &pretty); err != nil {
		fmt.Println(string(out))
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(pretty)
}
