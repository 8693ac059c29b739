package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.acuvity.ai/elemental"
	"go.acuvity.ai/minipolicer/pkgs/pdp"
	"go.acuvity.ai/minipolicer/pkgs/policer"
	"go.acuvity.ai/minipolicer/pkgs/policer/api"
	"go.acuvity.ai/minipolicer/pkgs/rules"
)

// ErrDenied is returned by check when the envelope is denied.
var ErrDenied = errors.New("envelope denied")

func init() {

	initSharedFlagSet()

	Check.Flags().AddFlagSet(fJWTVerifier)
	Check.Flags().AddFlagSet(fRules)
	Check.Flags().AddFlagSet(fPolicer)
	Check.Flags().AddFlagSet(fRemote)
}

// Check is the cobra command to evaluate a single envelope.
var Check = &cobra.Command{
	Use:              "check [file|-]",
	Short:            "Evaluate one envelope and print the decision",
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,
	Args:             cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {

		path := "-"
		if len(args) == 1 {
			path = args[0]
		}

		data, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}

		preq := api.Request{}
		if err := elemental.Decode(elemental.EncodingTypeJSON, data, &preq); err != nil {
			return fmt.Errorf("unable to decode envelope: %w", err)
		}

		var p policer.Policer

		if remote := viper.GetString("remote"); remote != "" {
			if p, err = makeRemotePolicer(remote); err != nil {
				return err
			}
		} else {
			set, err := makeRules(viper.GetString("rules"))
			if err != nil {
				return fmt.Errorf("unable to load rules: %w", err)
			}

			engine, err := makeEngine(rules.NewStore(set))
			if err != nil {
				return fmt.Errorf("unable to make decision engine: %w", err)
			}

			p = policer.NewLocal(engine)
		}

		resp, err := police(cmd, p, preq)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("unable to encode response: %w", err)
		}

		if !resp.Allow {
			return ErrDenied
		}

		return nil
	},
}

func police(cmd *cobra.Command, p policer.Policer, preq api.Request) (api.Response, error) {

	msg, err := p.Police(cmd.Context(), preq)

	var berr *api.BlockedError
	switch {
	case errors.As(err, &berr):
		return pdp.Deny(berr.Reasons...).Response(), nil
	case errors.Is(err, api.ErrBlocked):
		return pdp.Deny().Response(), nil
	case err != nil:
		return api.Response{}, fmt.Errorf("unable to police envelope: %w", err)
	case msg != nil:
		return pdp.AllowWithRewrite(*msg).Response(), nil
	default:
		return pdp.Allow().Response(), nil
	}
}

func readInput(stdin io.Reader, path string) ([]byte, error) {

	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("unable to read envelope from stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path) // #nosec: G304
	if err != nil {
		return nil, fmt.Errorf("unable to read envelope from '%s': %w", path, err)
	}

	return data, nil
}
