package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/rutishh0/testingAegis/proto/security"
)

func init() {
	register("keygen", &keygenCmd{})
	register("set-admin-key", &setAdminKeyCmd{})
}

type keygenCmd struct{}

func (keygenCmd) desc() string  { return "generate an escrow admin keypair" }
func (keygenCmd) usage() string { return "keygen" }

func (keygenCmd) longdesc() string {
	return `
	Generate a new escrow admin keypair and print both halves in base64.
	Give the public key to the server (ADMIN_PUBLIC_KEY or set-admin-key).
	Keep the secret key offline; it opens the admin copy of every message
	sent after the public key is installed.
`[1:]
}

func (keygenCmd) flags() *flag.FlagSet { return flag.NewFlagSet("keygen", flag.ExitOnError) }

func (keygenCmd) run(ctx context.Context, args []string) error {
	kp, err := security.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer kp.Wipe()

	fmt.Fprintf(out, "public:\t%s\n", kp.Public.Encode())
	fmt.Fprintf(out, "secret:\t%s\n", kp.Secret.Encode())
	return nil
}

type setAdminKeyCmd struct {
	fs     *flag.FlagSet
	dsn    string
	dbWait time.Duration
}

func (setAdminKeyCmd) desc() string  { return "install the escrow admin public key" }
func (setAdminKeyCmd) usage() string { return "set-admin-key [-psql=<dsn>] <public-key>" }

func (setAdminKeyCmd) longdesc() string {
	return `
	Store the given base64 public key as the escrow admin key. Clients
	encrypt an admin copy of each new message to this key. Messages sent
	under a previous key stay readable only with that key's secret.
`[1:]
}

func (cmd *setAdminKeyCmd) flags() *flag.FlagSet {
	cmd.fs = flag.NewFlagSet("set-admin-key", flag.ExitOnError)
	cmd.fs.StringVar(&cmd.dsn, "psql", "", "postgres dsn (default: DATABASE_URL)")
	cmd.fs.DurationVar(&cmd.dbWait, "db-wait", 30*time.Second, "how long to wait for the database")
	return cmd.fs
}

func (cmd *setAdminKeyCmd) run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", cmd.usage())
	}
	public, err := security.DecodePublicKey(args[0])
	if err != nil {
		return fmt.Errorf("admin public key: %s", err)
	}

	cfg, err := loadConfig(cmd.fs)
	if err != nil {
		return err
	}
	b, err := getPsqlBackend(ctx, cfg, cmd.dbWait)
	if err != nil {
		return err
	}
	defer b.Close()

	if err := b.SetAdminPublicKey(ctx, public.Encode()); err != nil {
		return err
	}
	fmt.Fprintf(out, "admin public key set to %s\n", public.Encode())
	return nil
}
