package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"hark/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon socket path")
	timeout := cli.DurationP("timeout", "t", 10*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: hark-ctl [flags] handsfree on|off | raw on|off [confirm] | talk start|stop | stop | status")
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.Send(ctx, *socket, ipc.ControlMessage{Cmd: args[0], Args: args[1:]})
	if err != nil {
		fmt.Println("hark daemon not running:", err)
		os.Exit(1)
	}

	if !resp.OK {
		fmt.Println("error:", resp.Error)
		if resp.Code == ipc.CodeConfirm {
			fmt.Printf("to proceed anyway: hark-ctl %s confirm\n", strings.Join(args, " "))
		}
		os.Exit(1)
	}

	var out bytes.Buffer
	if err := json.Indent(&out, resp.Status, "", "  "); err != nil {
		fmt.Println(string(resp.Status))
		return
	}
	fmt.Println(out.String())
}
