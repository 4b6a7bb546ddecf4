// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Command relaybroker is the combined entry point: a single binary
// exposing the broker, producer-demo, and consumer-demo roles as
// subcommands, plus a "both" role that runs a producer and a consumer
// side by side in one process for local smoke testing.
package main

import (
	"fmt"
	"os"

	"github.com/relaybroker/relaybroker/cmd/relaybroker/cli"
	"github.com/relaybroker/relaybroker/lib/process"
	"github.com/relaybroker/relaybroker/lib/version"
)

func main() {
	root := &cli.Command{
		Name:    "relaybroker",
		Summary: "message broker connecting agent producers to human consumers",
		Subcommands: []*cli.Command{
			brokerCommand(),
			produceCommand(),
			consumeCommand(),
			bothCommand(),
			{
				Name:    "version",
				Summary: "print version information and exit",
				Run: func(args []string) error {
					fmt.Println("relaybroker " + version.Info())
					return nil
				},
			},
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
