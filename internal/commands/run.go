package commands

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/bcsync/internal/buildinfo"
	"github.com/cleared-dev/bcsync/internal/id"
	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/pipeline"
	"github.com/cleared-dev/bcsync/internal/sink"
)

func newRunCommand() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "run [directory]",
		Short: "Sync pending input files into Business Central",
		Long: "Reads every *.jsonl file in the input directory (or Singer messages on stdin),\n" +
			"writes the records to Business Central and prints one STATE message per batch.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runSync(cmd.Context(), dir, fromStdin, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read messages from stdin instead of the input directory")

	return cmd
}

func runSync(ctx context.Context, dir string, fromStdin bool, in io.Reader, out, errOut io.Writer) error {
	p, err := loadProject(dir)
	if err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	log, err := p.logger(errOut)
	if err != nil {
		return err
	}

	client := p.client(ctx, log)
	ref, err := p.loadReference(ctx, client, log)
	if err != nil {
		return err
	}

	store, err := p.openState(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("saving sync state")
		}
	}()

	runner := &pipeline.Runner{
		Sinks: sink.DefaultRegistry(sink.Deps{Client: client, Log: log, BatchSize: p.cfg.Sync.BatchSize}),
		Processor: &sink.Processor{
			Mappers: mapper.DefaultRegistry(p.mapperOptions()),
			State:   store,
			Log:     log,
		},
		Ref:       ref,
		BatchSize: p.cfg.Sync.BatchSize,
		RunID:     id.RunID(),
		LogPath:   p.path(p.cfg.Sync.LogFile),
		Out:       out,
		Log:       log,
	}

	log.WithFields(logrus.Fields{"run_id": runner.RunID, "version": buildinfo.Version}).Info("sync started")

	var sum pipeline.Summary
	if fromStdin {
		sum, err = runner.Run(ctx, in)
	} else {
		sum, err = runner.RunDir(ctx, p.path(p.cfg.Sync.InputDir))
	}
	log.WithFields(logrus.Fields{
		"run_id":   runner.RunID,
		"records":  sum.Records,
		"created":  sum.Created,
		"updated":  sum.Updated,
		"existing": sum.Existing,
		"failed":   sum.Failed,
	}).Info("sync finished")
	return err
}
