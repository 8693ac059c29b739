package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.acuvity.ai/minipolicer/pkgs/rules"
	"go.acuvity.ai/minipolicer/pkgs/server"
	"golang.org/x/sync/errgroup"
)

var fServe = pflag.NewFlagSet("serve", pflag.ExitOnError)

func init() {

	initSharedFlagSet()

	fServe.StringP("listen", "l", ":8000", "listen address of the policer for incoming connections.")
	fServe.Int64("max-body-size", server.DefaultMaxBodySize, "maximum size in bytes of an envelope.")

	Serve.Flags().AddFlagSet(fServe)
	Serve.Flags().AddFlagSet(fTLSServer)
	Serve.Flags().AddFlagSet(fJWTVerifier)
	Serve.Flags().AddFlagSet(fRules)
	Serve.Flags().AddFlagSet(fPolicer)
	Serve.Flags().AddFlagSet(fHealth)
	Serve.Flags().AddFlagSet(fCORS)
	Serve.Flags().AddFlagSet(fGatewayAuth)
}

// Serve is the cobra command to run the decision point.
var Serve = &cobra.Command{
	Use:              "serve",
	Short:            "Start the policer to take decisions for MCP gateways",
	SilenceUsage:     true,
	SilenceErrors:    true,
	TraverseChildren: true,

	RunE: func(cmd *cobra.Command, args []string) error {

		listen := viper.GetString("listen")
		rulesPath := viper.GetString("rules")

		if listen == "" {
			return fmt.Errorf("--listen must be set")
		}

		serverTLSConfig, err := tlsServerConfigFromFlags()
		if err != nil {
			return err
		}

		set, err := makeRules(rulesPath)
		if err != nil {
			return fmt.Errorf("unable to load rules: %w", err)
		}

		store := rules.NewStore(set)

		engine, err := makeEngine(store)
		if err != nil {
			return fmt.Errorf("unable to make decision engine: %w", err)
		}

		gatewayAuth, err := makeGatewayAuth()
		if err != nil {
			return err
		}

		tracer, err := makeTracer(cmd.Context(), "serve")
		if err != nil {
			return fmt.Errorf("unable to configure tracer: %w", err)
		}

		corsPolicy := makeCORSPolicy()

		mm := startHealthServer(cmd.Context())

		slog.Info("Policer configured",
			"listen", listen,
			"tls", serverTLSConfig != nil,
			"mtls", mtlsMode(serverTLSConfig),
			"gateway-auth", gatewayAuth != nil,
			"rules", rulesPath,
		)

		srv := server.New(listen, serverTLSConfig, engine,
			server.OptCORSPolicy(corsPolicy),
			server.OptGatewayAuth(gatewayAuth),
			server.OptMetricsManager(mm),
			server.OptTracer(tracer),
			server.OptMaxBodySize(viper.GetInt64("max-body-size")),
		)

		eg, ctx := errgroup.WithContext(cmd.Context())

		eg.Go(func() error { return srv.Start(ctx) })

		if rulesPath != "" && viper.GetBool("rules-watch") {

			eg.Go(func() error {
				return rules.Watch(ctx, rulesPath, store,
					rules.OptWatchOnReload(func(_ *rules.Set, err error) {
						if mm != nil {
							mm.RegisterRulesReload(err)
						}
					}),
				)
			})

			slog.Info("Watching rules file", "path", rulesPath)
		}

		return eg.Wait()
	},
}
