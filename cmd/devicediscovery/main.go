package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rescp17/devicediscovery/pkg/server"
)

func defaultInstanceName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "device"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}

func newRootCmd() *cobra.Command {
	defaults := server.DefaultConfig()
	opts := &options{}

	root := &cobra.Command{
		Use:           "devicediscovery",
		Short:         "Share and exchange files with devices on the local network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath != "" {
				fc, err := loadConfig(opts.configPath)
				if err != nil {
					return err
				}
				opts.merge(fc, cmd.Flags())
			}
			return opts.setupLogging(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			opts.closeLog()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML file with default flag values")
	pf.StringVar(&opts.name, "name", defaultInstanceName(), "Service instance name to advertise")
	pf.IntVar(&opts.port, "port", 0, "Port to listen on (0 picks a free port)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	pf.StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	pf.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", defaults.ShutdownTimeout, "Grace period for in-flight requests on exit")

	root.AddCommand(
		newShareCmd(opts, defaults),
		newHostCmd(opts, defaults),
		newBrowseCmd(),
		newGetCmd(),
		newSendCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fang.Execute(ctx, newRootCmd()); err != nil {
		stop()
		os.Exit(1)
	}
}

func absDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("invalid directory %s: %w", dir, err)
	}
	return abs, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
