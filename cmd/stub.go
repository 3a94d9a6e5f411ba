package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"loom/internal/stub"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Start the local stub backend",
	Long: `Start an in-memory stub of the inference backend. It serves the REST
surface and the framed event stream so the client can be exercised without
a real backend.`,
	RunE: runStub,
}

func init() {
	rootCmd.AddCommand(stubCmd)

	flags := stubCmd.Flags()
	flags.StringP("host", "H", "0.0.0.0", "stub host")
	flags.IntP("port", "p", 7080, "stub port")
	flags.String("mode", "release", "gin mode (debug/release/test)")

	_ = viper.BindPFlag("stub.host", flags.Lookup("host"))
	_ = viper.BindPFlag("stub.port", flags.Lookup("port"))
	_ = viper.BindPFlag("stub.mode", flags.Lookup("mode"))
}

func runStub(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	srv := stub.New(&cfg.Stub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Stub.Host, cfg.Stub.Port)
	log.Info().Str("addr", addr).Msg("starting stub backend")
	return srv.Run(ctx, addr)
}
