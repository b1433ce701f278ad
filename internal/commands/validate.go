package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "validate [directory]",
		Short: "Check the project configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runValidate(cmd.Context(), dir, remote, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "also check dimension mappings against Business Central")

	return cmd
}

func runValidate(ctx context.Context, dir string, remote bool, out, errOut io.Writer) error {
	p, err := loadProject(dir)
	if err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	if !remote {
		fmt.Fprintln(out, "configuration ok")
		return nil
	}

	log, err := p.logger(errOut)
	if err != nil {
		return err
	}
	ref, err := p.loadReference(ctx, p.client(ctx, log), log)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "configuration ok, %d companies checked\n", len(ref.Companies()))
	return nil
}
