package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/state/shutdown"
	"fieldsync/pkg/telemetry"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background sync schedule",
	Long: `Run keeps the store open and synchronizes it on the configured cron
schedule until interrupted. Prometheus metrics are served when metrics.addr
is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := shutdown.SetupSignalHandler(cmd.Context())
		defer cancel()

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer a.Close()

		if addr := a.Config().Metrics.Addr; addr != "" {
			r := mux.NewRouter()
			r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)
			srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				logger.Info("metrics_listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics_server_failed", "error", err)
				}
			}()
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				_ = srv.Shutdown(sctx)
			}()
		}

		return a.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
