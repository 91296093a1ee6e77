package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/crm"
	"github.com/sells-group/revops-cli/internal/fetcher"
	"github.com/sells-group/revops-cli/internal/resilience"
	"github.com/sells-group/revops-cli/internal/store"
)

// initStore opens the configured backend and applies pending migrations.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.Store.MaxConns})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initCRM builds the rate-limited CRM client from config.
func initCRM() (*crm.Client, error) {
	policy := resilience.NewPolicy(cfg.Extract.MaxAttempts, cfg.Extract.InitialBackoffMs, cfg.Extract.MaxBackoffMs)
	policy.OnRetry = resilience.LogRetry("crm", "get page")

	f, err := fetcher.New(fetcher.Options{
		BaseURL:    cfg.CRM.BaseURL,
		Token:      cfg.CRM.Token,
		Timeout:    cfg.CRM.PageTimeout(),
		RatePerSec: cfg.CRM.RatePerSec,
		Burst:      cfg.CRM.Burst,
		Retry:      policy,
	})
	if err != nil {
		return nil, eris.Wrap(err, "init crm transport")
	}
	return crm.NewClient(f, crm.ClientOptions{
		PageSize:  cfg.CRM.PageSize,
		PageDelay: cfg.CRM.PageDelay(),
		Fields:    cfg.CRM.Fields,
	}), nil
}

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
