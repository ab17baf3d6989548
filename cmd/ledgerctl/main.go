// Package main provides ledgerctl, the administrative CLI:
//
//	ledgerctl [-config path] migrate
//	ledgerctl [-config path] seed [-balance n]
//	ledgerctl [-config path] register -username u -email e
//	ledgerctl [-config path] currencies
//	ledgerctl [-config path] verify
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"

	"amm-ledger/internal/accounts"
	"amm-ledger/internal/config"
	"amm-ledger/internal/domain"
	"amm-ledger/internal/logger"
	"amm-ledger/internal/queries"
	"amm-ledger/internal/storage/migrations"
	pgstore "amm-ledger/internal/storage/postgres"
	"amm-ledger/internal/verification"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default configs/config.yaml)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Postgres.DSN == "" {
		fmt.Fprintln(os.Stderr, "postgres.dsn is required (set LEDGER_POSTGRES_DSN)")
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(context.Background(), cfg, log, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		log.Sync()
		fmt.Fprintf(os.Stderr, "%s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl [-config path] <migrate|seed|register|currencies|verify> [flags]")
	flag.PrintDefaults()
}

var (
	errUnknownCommand     = errors.New("unknown command")
	errLedgerInconsistent = errors.New("ledger invariants violated")
)

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "migrate", "seed", "register", "currencies", "verify":
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd)
	}

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	ledger := pgstore.NewLedger(pool)

	switch cmd {
	case "migrate":
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return err
		}
		fmt.Fprintln(out, "postgres migrations applied")
		if cfg.ClickHouse.DSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
			if err != nil {
				return err
			}
			conn.Close()
			fmt.Fprintln(out, "clickhouse migrations applied")
		}
		return nil

	case "seed":
		fs := flag.NewFlagSet("seed", flag.ContinueOnError)
		balance := fs.Float64("balance", cfg.System.SeedBalance, "Initial system account balance")
		if err := fs.Parse(args); err != nil {
			return err
		}
		acc := accounts.New(accounts.Options{Ledger: ledger, Logger: log})
		u, err := acc.EnsureSystemAccount(ctx, *balance)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "system account %s (id %d) balance %s %s\n",
			u.PublicID, u.ID, domain.FormatAmount(u.Balance, 2), domain.BaseSymbol)
		return nil

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		username := fs.String("username", "", "Username")
		email := fs.String("email", "", "Email")
		if err := fs.Parse(args); err != nil {
			return err
		}
		acc := accounts.New(accounts.Options{Ledger: ledger, Logger: log})
		u, err := acc.Register(ctx, *username, *email)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "registered %s public_id=%s\n", u.Username, u.PublicID)
		return nil

	case "currencies":
		q := queries.New(queries.Options{Ledger: ledger, Logger: log})
		list, err := q.Currencies(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SYMBOL\tNAME\tPRICE\tCOMMISSION\tLIQUIDITY")
		for _, c := range list {
			d, err := q.CurrencyDetails(ctx, c.Symbol)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s%%\t%s\n",
				d.Symbol, d.Name,
				domain.FormatAmount(d.CurrentPrice, 8),
				domain.FormatAmount(d.CommissionRate*100, 2),
				domain.FormatAmount(d.Liquidity, 2))
		}
		return tw.Flush()

	case "verify":
		report, err := verification.NewAuditor(ledger, log).Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "users=%d currencies=%d wallets=%d base_total=%s\n",
			report.Users, report.Currencies, report.Wallets, domain.FormatAmount(report.BaseTotal, 2))
		for _, c := range report.Supply {
			fmt.Fprintf(out, "%s supply drift %s\n", c.Symbol, domain.FormatAmount(c.Drift(), 8))
		}
		for _, v := range report.Violations {
			fmt.Fprintf(out, "VIOLATION %s %s: %s\n", v.Rule, v.Subject, v.Detail)
		}
		if !report.OK() {
			return errLedgerInconsistent
		}
		fmt.Fprintln(out, "ledger consistent")
		return nil
	}
	return nil
}
