// Command ledger-admin runs one-off maintenance against the configured
// backend: schema migrations, duplicate cleanup, legacy period rewrites,
// manual carry-over syncs and account seeding.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ledger/internal/backend"
	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/period"
	"ledger/internal/services"
	"ledger/internal/storage"
	"ledger/internal/worker"
)

const usage = `usage: ledger-admin <command> [flags]

commands:
  migrate          apply pending schema migrations (-status to only report)
  dedup            remove duplicate bucket payments (-account, default all)
  migrate-periods  rewrite legacy period keys (-account, default all)
  sync             reconcile carry-over for a period (-account, -period)
  seed             create an account with defaults (-name, -start-day) or reseed one (-account)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(log.ComponentAdmin)
	logger := cli.SetupLogger(cfg, log.ComponentAdmin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "migrate":
		err = runMigrate(cfg, logger, args)
	case "dedup", "migrate-periods", "sync", "seed":
		err = withLedger(ctx, cfg, logger, func(ledger *services.LedgerService, res *backend.BackendResult) error {
			switch cmd {
			case "dedup":
				return runDedup(ctx, ledger, logger, args)
			case "migrate-periods":
				return runMigratePeriods(ctx, ledger, logger, args)
			case "sync":
				return runSync(ctx, ledger, res, logger, args)
			default:
				return runSeed(ctx, ledger, logger, args)
			}
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("Command failed", log.FieldOperation, cmd, "error", err)
		os.Exit(1)
	}
}

func runMigrate(cfg *config.Config, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	status := fs.Bool("status", false, "report the schema version without migrating")
	_ = fs.Parse(args)

	var (
		dialect storage.Dialect
		dsn     string
	)
	switch cfg.DataBackend {
	case config.BackendSQLite:
		dialect, dsn = storage.DialectSQLite, cfg.SQLiteDBPath
	case config.BackendPostgres:
		dialect, dsn = storage.DialectPostgres, cfg.DatabaseURL
	default:
		logger.Info("Memory backend has no schema", log.FieldBackend, cfg.DataBackend)
		return nil
	}

	if !*status {
		if err := storage.RunMigrations(dialect, dsn); err != nil {
			return err
		}
	}
	version, dirty, err := storage.MigrationVersion(dialect, dsn)
	if err != nil {
		return err
	}
	logger.Info("Schema version", log.FieldBackend, cfg.DataBackend, "version", version, "dirty", dirty)
	return nil
}

// withLedger opens the backend, builds the ledger service and always cleans
// up afterwards.
func withLedger(ctx context.Context, cfg *config.Config, logger *log.Logger, fn func(*services.LedgerService, *backend.BackendResult) error) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	res := cli.OpenBackend(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", "error", err)
		}
	}()

	ledger := services.NewLedgerService(res.Store, res.Publisher(), logger, services.LedgerConfig{
		DefaultStartDay: cfg.DefaultPeriodStartDay,
		Location:        loc,
	})
	return fn(ledger, res)
}

// accounts returns the named account, or every account when id is empty.
func accounts(ctx context.Context, ledger *services.LedgerService, id string) ([]core.Account, error) {
	if id == "" {
		return ledger.ListAccounts(ctx)
	}
	acc, err := ledger.Account(ctx, id)
	if err != nil {
		return nil, err
	}
	return []core.Account{acc}, nil
}

func runDedup(ctx context.Context, ledger *services.LedgerService, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("dedup", flag.ExitOnError)
	accountID := fs.String("account", "", "account id (default: all accounts)")
	_ = fs.Parse(args)

	accs, err := accounts(ctx, ledger, *accountID)
	if err != nil {
		return err
	}
	total := 0
	for _, acc := range accs {
		n, err := ledger.Dedup(ctx, acc.ID)
		if err != nil {
			return fmt.Errorf("dedup account %s: %w", acc.ID, err)
		}
		total += n
		logger.Info("Removed duplicate bucket payments", log.FieldAccountID, acc.ID, "count", n)
	}
	logger.Info("Dedup complete", "accounts", len(accs), "removed", total)
	return nil
}

func runMigratePeriods(ctx context.Context, ledger *services.LedgerService, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("migrate-periods", flag.ExitOnError)
	accountID := fs.String("account", "", "account id (default: all accounts)")
	_ = fs.Parse(args)

	accs, err := accounts(ctx, ledger, *accountID)
	if err != nil {
		return err
	}
	total := 0
	for _, acc := range accs {
		n, err := ledger.MigrateLegacyPeriods(ctx, acc.ID)
		if err != nil {
			return fmt.Errorf("migrate periods for account %s: %w", acc.ID, err)
		}
		total += n
		logger.Info("Rewrote legacy periods", log.FieldAccountID, acc.ID, "rows", n)
	}
	logger.Info("Period migration complete", "accounts", len(accs), "rows", total)
	return nil
}

func runSync(ctx context.Context, ledger *services.LedgerService, res *backend.BackendResult, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	accountID := fs.String("account", "", "account id (required)")
	rawPeriod := fs.String("period", "", "period start date YYYY-MM-DD (default: current period)")
	export := fs.Bool("export", false, "write the summary to the configured spreadsheet")
	_ = fs.Parse(args)

	if *accountID == "" {
		return fmt.Errorf("-account is required")
	}
	var (
		acc core.Account
		p   period.Period
		err error
	)
	if *rawPeriod == "" {
		info, cerr := ledger.CurrentPeriod(ctx, *accountID)
		if cerr != nil {
			return cerr
		}
		acc, err = ledger.Account(ctx, *accountID)
		p = info.Period
	} else {
		acc, p, err = ledger.ResolvePeriod(ctx, *accountID, *rawPeriod)
	}
	if err != nil {
		return err
	}

	result, err := ledger.SyncCarryover(ctx, acc.ID, p)
	if err != nil {
		return err
	}
	logger.Info("Carry-over synced",
		log.FieldAccountID, acc.ID,
		log.FieldPeriod, p.String(),
		"created", result.Created,
		"updated", result.Updated,
		"unchanged", result.Unchanged,
		"failed", result.Failed)

	if !*export {
		return nil
	}
	if res.Exporter == nil {
		return fmt.Errorf("export requested but no spreadsheet is configured")
	}
	return worker.NewSyncWorker(ledger, res.Exporter).ExportPeriod(ctx, acc, p)
}

func runSeed(ctx context.Context, ledger *services.LedgerService, logger *log.Logger, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	accountID := fs.String("account", "", "reseed defaults into an existing account")
	name := fs.String("name", "Demo", "name of the new account")
	startDay := fs.Int("start-day", 0, "period start day 1-31 (default: configured default)")
	_ = fs.Parse(args)

	if *accountID != "" {
		if _, err := ledger.Account(ctx, *accountID); err != nil {
			return err
		}
		seeded, err := services.SeedDefaults(ctx, ledger.Store(), *accountID)
		if err != nil {
			return err
		}
		logger.Info("Seeded defaults",
			log.FieldAccountID, *accountID,
			"categories", seeded.Categories,
			"buckets", seeded.Buckets)
		return nil
	}

	// New accounts get the default categories and buckets on creation.
	acc, err := ledger.CreateAccount(ctx, *name, *startDay)
	if err != nil {
		return err
	}
	logger.Info("Created account", log.FieldAccountID, acc.ID, "start_day", acc.PeriodStartDay)
	fmt.Println(acc.ID)
	return nil
}
