package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.acuvity.ai/minipolicer/cli/internal/cmd"
)

// Main is the main run for the cli.
func Main(ctx context.Context) {

	cobra.OnInitialize(initCobra)

	cmd.Root.AddCommand(
		cmd.Serve,
		cmd.Check,
		cmd.Rules,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	installSIGINTHandler(cancel)

	if err := cmd.Root.ExecuteContext(ctx); err != nil {
		if _, ok := slog.Default().Handler().(*slog.JSONHandler); ok {
			slog.Error("Minipolicer exited with error", "err", err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %s\n", err.Error())
		}
		os.Exit(1)
	}
}

func installSIGINTHandler(cancel context.CancelFunc) {

	sigs := []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT}
	signalCh := make(chan os.Signal, 1)
	signal.Reset(sigs...)
	signal.Notify(signalCh, sigs...)

	go func() {
		<-signalCh
		cancel()
	}()
}
