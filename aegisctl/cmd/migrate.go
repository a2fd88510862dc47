package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/rutishh0/testingAegis/backend/psql"
)

func init() {
	register("migrate", &migrateCmd{})
}

type migrateCmd struct {
	fs     *flag.FlagSet
	dsn    string
	dbWait time.Duration
	status bool
}

func (migrateCmd) desc() string  { return "apply pending database migrations" }
func (migrateCmd) usage() string { return "migrate [-psql=<dsn>] [-status]" }

func (migrateCmd) longdesc() string {
	return `
	Bring the postgres schema up to date. With -status, list the
	migrations already applied and the ones still pending instead.
`[1:]
}

func (cmd *migrateCmd) flags() *flag.FlagSet {
	cmd.fs = flag.NewFlagSet("migrate", flag.ExitOnError)
	cmd.fs.StringVar(&cmd.dsn, "psql", "", "postgres dsn (default: DATABASE_URL)")
	cmd.fs.DurationVar(&cmd.dbWait, "db-wait", 30*time.Second, "how long to wait for the database")
	cmd.fs.BoolVar(&cmd.status, "status", false, "report migration status without applying anything")
	return cmd.fs
}

func (cmd *migrateCmd) run(ctx context.Context, args []string) error {
	cfg, err := loadConfig(cmd.fs)
	if err != nil {
		return err
	}
	b, err := getPsqlBackend(ctx, cfg, cmd.dbWait)
	if err != nil {
		return err
	}
	defer b.Close()

	if cmd.status {
		return cmd.report(b)
	}

	n, err := psql.Migrate(b.DB)
	if err != nil {
		return fmt.Errorf("migrate: %s", err)
	}
	fmt.Fprintf(out, "applied %d migration(s)\n", n)
	return nil
}

func (cmd *migrateCmd) report(b *psql.Backend) error {
	records, err := migrate.GetMigrationRecords(b.DB, "postgres")
	if err != nil {
		return fmt.Errorf("migrate: %s", err)
	}
	applied := map[string]bool{}
	for _, rec := range records {
		applied[rec.Id] = true
		fmt.Fprintf(out, "applied\t%s\t%s\n", rec.Id, rec.AppliedAt.Format(time.RFC3339))
	}

	migrations, err := psql.Migrations.FindMigrations()
	if err != nil {
		return fmt.Errorf("migrate: %s", err)
	}
	for _, m := range migrations {
		if !applied[m.Id] {
			fmt.Fprintf(out, "pending\t%s\n", m.Id)
		}
	}
	return nil
}
