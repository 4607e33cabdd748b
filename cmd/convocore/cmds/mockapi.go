package cmds

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/convocore/pkg/mockapi"
)

func NewMockAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-api",
		Short: "Serve the accounts and feedback APIs backed by SQLite",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMockAPI(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8081", "Listen address")
	f.String("db", "mock-api.db", "SQLite database file")
	bindFlag(f, "addr", "mock-api.addr")
	bindFlag(f, "db", "mock-api.db")
	return cmd
}

func runMockAPI(ctx context.Context) error {
	store, err := mockapi.NewStore(settings.MockAPI.DB)
	if err != nil {
		return err
	}
	api, err := mockapi.NewServer(store)
	if err != nil {
		_ = store.Close()
		return err
	}
	httpSrv := &http.Server{Addr: settings.MockAPI.Addr, Handler: api.Handler()}
	return serveHTTP(ctx, "mock-api", httpSrv, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	})
}
