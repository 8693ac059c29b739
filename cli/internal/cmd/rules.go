package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.acuvity.ai/minipolicer/pkgs/rules"
)

func init() {

	initSharedFlagSet()

	Rules.Flags().AddFlagSet(fRules)
}

// Rules is the cobra command to validate a rules file.
var Rules = &cobra.Command{
	Use:              "rules [file]",
	Short:            "Validate a rules file and print its fingerprint",
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,
	Args:             cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {

		path := viper.GetString("rules")
		if len(args) == 1 {
			path = args[0]
		}

		if path == "" {
			return fmt.Errorf("you must pass a rules file or set --rules")
		}

		set, err := rules.Load(path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		_, _ = fmt.Fprintf(out, "fingerprint: %s\n", set.Fingerprint())
		_, _ = fmt.Fprintf(out, "posture:     %s\n", set.Posture())
		_, _ = fmt.Fprintf(out, "redact:      %v\n", set.RedactFields())

		for _, id := range set.Identities() {
			_, _ = fmt.Fprintf(out, "identity:    %s forbidden=%d allowed=%d\n",
				id,
				len(set.Forbidden(id)),
				len(set.Allowed(id)),
			)
		}

		return nil
	},
}
