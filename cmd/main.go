package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"positionledger/src/database"
	"positionledger/src/executors"
	"positionledger/src/reconciler"
	"positionledger/src/repository"
	"positionledger/src/server"
)

var Version string

func main() {
	app := cli.NewApp()
	app.Name = "Position Ledger CMD"
	app.Usage = "The position ledger command line interface"

	app.Commands = []cli.Command{
		serverCMD,
		syncCMD,
		rebuildCMD,
		reconcileCMD,
		liveCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the reporting HTTP server",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Serve the read-only position reporting surface`,
	}
	syncCMD = cli.Command{
		Name:        "sync",
		Usage:       "backfill and rebuild one account",
		Action:      syncAction,
		ArgsUsage:   "<account-id>",
		Flags:       []cli.Flag{},
		Description: `Backfill executions and funding from the exchange, then rebuild positions`,
	}
	rebuildCMD = cli.Command{
		Name:        "rebuild",
		Usage:       "rebuild positions from stored fills",
		Action:      rebuildAction,
		ArgsUsage:   "<account-id>",
		Flags:       []cli.Flag{},
		Description: `Run a full reconciliation over the account's unconsumed fills, no exchange access`,
	}
	reconcileCMD = cli.Command{
		Name:        "reconcile",
		Usage:       "reconcile one symbol",
		Action:      reconcileAction,
		ArgsUsage:   "<account-id> <symbol>",
		Flags:       []cli.Flag{},
		Description: `Run a single-symbol incremental reconciliation`,
	}
	liveCMD = cli.Command{
		Name:        "live",
		Usage:       "run the scheduler and live stream workers",
		Action:      liveAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Periodic backfill across all active accounts plus per-account live streams`,
	}
)

func initDB() error {
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}
	return nil
}

func accountIDArg(c *cli.Context) (uint, error) {
	raw := c.Args().First()
	if raw == "" {
		return 0, fmt.Errorf("account id argument is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid account id %q: %w", raw, err)
	}
	return uint(id), nil
}

func serverAction(_ *cli.Context) error {
	logrus.Info("Starting reporting server CMD")

	if err := initDB(); err != nil {
		return err
	}

	server.StartServer(server.GetConfig().Port)
	return nil
}

func syncAction(c *cli.Context) error {
	logrus.Info("Starting sync CMD")

	if err := initDB(); err != nil {
		return err
	}

	accountID, err := accountIDArg(c)
	if err != nil {
		return err
	}

	ctx := context.Background()
	account, err := repository.NewAccountRepository().FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("account %d not found", accountID)
	}

	if err := executors.SyncAccount(ctx, account); err != nil {
		logrus.WithError(err).Error("Sync failed")
		return err
	}
	return nil
}

func rebuildAction(c *cli.Context) error {
	logrus.Info("Starting rebuild CMD")

	if err := initDB(); err != nil {
		return err
	}

	accountID, err := accountIDArg(c)
	if err != nil {
		return err
	}

	if err := reconciler.NewReconciler().RebuildAccount(context.Background(), accountID); err != nil {
		logrus.WithError(err).Error("Rebuild failed")
		return err
	}
	return nil
}

func reconcileAction(c *cli.Context) error {
	logrus.Info("Starting reconcile CMD")

	if err := initDB(); err != nil {
		return err
	}

	accountID, err := accountIDArg(c)
	if err != nil {
		return err
	}
	symbol := c.Args().Get(1)
	if symbol == "" {
		return fmt.Errorf("symbol argument is required")
	}

	if err := reconciler.NewReconciler().ReconcileSymbol(context.Background(), accountID, symbol); err != nil {
		logrus.WithError(err).Error("Reconcile failed")
		return err
	}
	return nil
}

func liveAction(_ *cli.Context) error {
	logrus.Info("Starting live CMD")

	if err := initDB(); err != nil {
		return err
	}

	return executors.StartLoop(context.Background())
}
