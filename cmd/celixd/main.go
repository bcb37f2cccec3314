// Package main implements celixd, a thin launcher that reads flags into
// a framework.Config, starts the framework, auto-starts any bundles
// named on the command line, and blocks until an interrupt signal
// triggers a graceful shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gocelix/gocelix/pkg/bundle"
	"github.com/gocelix/gocelix/pkg/framework"
)

type options struct {
	storage      string
	cleanStorage bool
	autoStart    []string
	uuid         string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	o := options{}

	cmd := &cobra.Command{
		Use:          "celixd",
		Short:        "Runs the gocelix framework facade as a standalone process",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			level, err := logrus.ParseLevel(o.logLevel)
			if err != nil {
				return fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
			}
			logger.SetLevel(level)
			return o.run(logger)
		},
	}

	cmd.Flags().StringVar(&o.storage, "storage", ".gocelix", "directory the framework uses for bundle cache storage")
	cmd.Flags().BoolVar(&o.cleanStorage, "clean-storage", false, "remove the storage directory's contents on startup")
	cmd.Flags().StringArrayVar(&o.autoStart, "auto-start", nil, "bundle location to install and start at launch; may be repeated")
	cmd.Flags().StringVar(&o.uuid, "uuid", "", "framework instance identifier; generated if empty")
	cmd.Flags().StringVar(&o.logLevel, "log-level", "info", "log level: panic, fatal, error, warn, info, debug, trace")

	return cmd
}

func (o *options) run(logger *logrus.Logger) error {
	if o.cleanStorage && o.storage != "" {
		if err := os.RemoveAll(o.storage); err != nil {
			logger.WithError(err).Warn("failed to clean storage directory")
		}
	}
	if err := os.MkdirAll(o.storage, 0o755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	cfg := framework.Config{
		StorageDir:   o.storage,
		CleanStorage: o.cleanStorage,
		AutoStart:    o.autoStart,
		UUID:         o.uuid,
		LogLevel:     o.logLevel,
	}

	fw := framework.Create(cfg, diskArchiveFactory, logger)
	if err := fw.Start(); err != nil {
		return fmt.Errorf("starting framework: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := fw.Stop(); err != nil {
		return fmt.Errorf("stopping framework: %w", err)
	}
	fw.WaitForStop()
	return nil
}

// diskArchiveFactory is the default ArchiveFactory celixd uses: bundle
// locations are directories containing a "manifest" file of
// newline-separated "Key: Value" pairs, read fresh on install. Bundle
// archive on-disk format beyond this minimal layout is out of scope.
func diskArchiveFactory(location string) (bundle.Archive, error) {
	return newDiskArchive(location)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("celixd exited with error")
	}
}
