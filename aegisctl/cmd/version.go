package cmd

import (
	"context"
	"flag"
	"fmt"
)

func init() {
	register("version", &versionCmd{})
}

type versionCmd struct {
}

func (versionCmd) desc() string {
	return "display aegisctl version"
}

func (versionCmd) usage() string {
	return "version"
}

func (versionCmd) longdesc() string {
	return "Display the version stamped into the aegisctl binary."
}

func (versionCmd) flags() *flag.FlagSet {
	return flag.NewFlagSet("version", flag.ExitOnError)
}

func (versionCmd) run(ctx context.Context, args []string) error {
	fmt.Fprintf(out, "aegisctl version %s\n", Version)
	return nil
}
