package executors

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"

	"positionledger/src/connectors"
	"positionledger/src/ingest"
	"positionledger/src/model"
	"positionledger/src/reconciler"
	"positionledger/src/repository"
	"positionledger/src/security"
)

var errNoCredentials = errors.New("account has no usable api credentials")

// accountCredentials decrypts the account's stored key pair. A missing
// or undecryptable credential is fatal for that account's sync only.
func accountCredentials(account *model.Account) (string, string, error) {
	if account.APIKeyHash == "" || account.APISecretHash == "" {
		return "", "", errNoCredentials
	}

	apiKey, err := security.DecryptString(account.APIKeyHash)
	if err != nil {
		return "", "", err
	}
	apiSecret, err := security.DecryptString(account.APISecretHash)
	if err != nil {
		return "", "", err
	}
	return apiKey, apiSecret, nil
}

func ingestorFor(account *model.Account) (*ingest.Ingestor, error) {
	apiKey, apiSecret, err := accountCredentials(account)
	if err != nil {
		return nil, err
	}
	return ingest.NewIngestor(connectors.NewBybitClient(apiKey, apiSecret, "")), nil
}

// SyncAccount backfills one account from its last locally known point
// and rebuilds its positions. Used by the scheduler and the CLI.
func SyncAccount(ctx context.Context, account *model.Account) error {
	ingestor, err := ingestorFor(account)
	if err != nil {
		return err
	}

	if _, err := ingestor.RefreshInstruments(ctx); err != nil {
		logger.WithFields(map[string]interface{}{
			"executor":   "SyncAccount",
			"account_id": account.ID,
		}).WithError(err).Warn("Instrument refresh failed, continuing with cached universe")
	}

	if err := ingestor.BackfillSinceLast(ctx, account); err != nil {
		return err
	}

	if err := reconciler.NewReconciler().RebuildAccount(ctx, account.ID); err != nil {
		return err
	}

	return repository.NewAccountRepository().TouchLastSync(ctx, account.ID, time.Now().UTC())
}

// StartLoop is the scheduler: an immediate pass over all active
// accounts, then one pass per tick, plus one live stream worker per
// account when enabled. One account's failure never stops the others.
func StartLoop(ctx context.Context) error {
	config := GetConfig()
	accounts := repository.NewAccountRepository()

	ticker := time.NewTicker(config.SyncPeriod)
	defer ticker.Stop()

	liveRunning := make(map[uint]bool)

	pass := func() {
		active, err := accounts.FindActive(ctx)
		if err != nil {
			logger.WithField("executor", "StartLoop").
				WithError(err).Error("Failed to list active accounts")
			return
		}

		for i := range active {
			account := active[i]

			if err := SyncAccount(ctx, &account); err != nil {
				logger.WithFields(map[string]interface{}{
					"executor":   "StartLoop",
					"account_id": account.ID,
				}).WithError(err).Error("Account sync failed, continuing with next account")
			}

			if config.LiveEnabled && !liveRunning[account.ID] {
				worker, err := newLiveWorker(&account, config)
				if err != nil {
					logger.WithFields(map[string]interface{}{
						"executor":   "StartLoop",
						"account_id": account.ID,
					}).WithError(err).Error("Live worker not started")

					continue
				}
				liveRunning[account.ID] = true
				go worker.run(ctx)
			}
		}
	}

	pass()
	for {
		select {
		case <-ctx.Done():
			logger.WithField("executor", "StartLoop").Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			pass()
		}
	}
}
