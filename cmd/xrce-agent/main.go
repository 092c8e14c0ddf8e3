// xrce-agent bridges resource-constrained XRCE clients to a publish/subscribe
// middleware. It admits client sessions over UDP and WebSocket, keeps each
// session's entity table, and serves an operator view over HTTP.
//
// Commands:
//
//	serve   run the agent (default)
//	schema  print the JSON Schema of the reference profile file
//
// Every flag has an XRCE_* environment variable counterpart; flags given on
// the command line win.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// version is overridden at link time.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, cmd, err := parseArgs(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	switch cmd {
	case "serve":
		err = serve(cfg)
	case "schema":
		err = printSchema(os.Stdout)
	case "version":
		fmt.Println(version)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
