package main

import (
	"flag"

	"github.com/rutishh0/testingAegis/aegisctl/cmd"
)

var Version string

func main() {
	if Version != "" {
		cmd.Version = Version
	}
	flag.Parse()
	cmd.Run(flag.Args())
}
