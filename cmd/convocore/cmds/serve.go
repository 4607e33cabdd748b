package cmds

import (
	"context"
	"embed"
	"io/fs"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/convocore/pkg/backends/scripted"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/eventbus"
	"github.com/go-go-golems/convocore/pkg/server"
	"github.com/go-go-golems/convocore/pkg/widget"
)

//go:embed static/*
var staticFS embed.FS

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host widgets over websockets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "Listen address")
	f.String("script", "", "Scripted backend file (default: built-in script)")
	f.Bool("redis", false, "Fan timeline frames out over Redis streams")
	f.String("redis-addr", "localhost:6379", "Redis address")
	bindFlag(f, "addr", "serve.addr")
	bindFlag(f, "script", "backend.script")
	bindFlag(f, "redis", "eventbus.redis-enabled")
	bindFlag(f, "redis-addr", "eventbus.redis-addr")
	return cmd
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	script, err := scripted.Load(settings.Backend.Script)
	if err != nil {
		return err
	}
	bus, err := eventbus.New(settings.EventBus)
	if err != nil {
		return err
	}
	srv, err := server.New(server.Config{
		BaseCtx: ctx,
		Bus:     bus,
		NewWidget: func(ctx context.Context, id string, host commands.Host) (*widget.Widget, error) {
			return newWidget(ctx, id, script, host, nil)
		},
	})
	if err != nil {
		_ = bus.Close()
		return err
	}

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	api := srv.Handler()
	mux.Handle("/ws", api)
	mux.Handle("/healthz", api)
	mux.Handle("/", http.FileServerFS(static))

	httpSrv := &http.Server{Addr: settings.Serve.Addr, Handler: mux}
	return serveHTTP(ctx, "widget-server", httpSrv, func() {
		srv.Close()
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("event bus close failed")
		}
	})
}
