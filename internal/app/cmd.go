package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Command名
const (
	CommandServe       = "serve"
	CommandWorker      = "worker"
	CommandMigrate     = "migrate"
	CommandDistribute  = "distribute"
	CommandHealthcheck = "healthcheck"
)

// NewRootCmd はルートコマンドを生成する。
// ログはlogWに、distribute の結果はコマンドの標準出力に書き出す。
// サブコマンドを省略した場合は serve として起動する。
func NewRootCmd(logW io.Writer) *cobra.Command {
	serve := func(cmd *cobra.Command, args []string) error {
		cfg, log, err := Init(logW)
		if err != nil {
			return err
		}
		log.Info("starting application",
			slog.String("command", CommandServe),
			slog.String("port", cfg.ServerPort),
			slog.String("store_driver", cfg.StoreDriver),
		)
		return runServe(cmd.Context(), cfg, log)
	}

	rootCmd := &cobra.Command{
		Use:   "driftledger",
		Short: "Drift racing game ledger: check-ins, scores, rankings and daily rewards",
		Long: `driftledger keeps the points and tokens ledger for the drift racing mini game.

It serves the player API, runs the daily reward distribution worker,
and applies database migrations.`,
		RunE:          serve,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandServe,
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandWorker,
		Short: "Run the daily reward scheduler and notification log cleanup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(logW)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, log)
		},
	})

	var migrateOpts migrateOptions
	migrateCmd := &cobra.Command{
		Use:   CommandMigrate,
		Short: "Apply pending database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(logW)
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg, log, migrateOpts, cmd.OutOrStdout())
		},
	}
	migrateCmd.Flags().IntVar(&migrateOpts.Down, "down", 0, "roll back the given number of migrations instead of applying")
	migrateCmd.Flags().BoolVar(&migrateOpts.Status, "status", false, "only print the current schema version")
	migrateCmd.MarkFlagsMutuallyExclusive("down", "status")
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   CommandDistribute,
		Short: "Distribute today's rewards once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := Init(logW)
			if err != nil {
				return err
			}
			return runDistribute(cmd.Context(), cfg, log, cmd.OutOrStdout())
		},
	})

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	var port string
	healthCmd := &cobra.Command{
		Use:   CommandHealthcheck,
		Short: "Check the local /health endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}
	defaultPort := os.Getenv("SERVER_PORT")
	if defaultPort == "" {
		defaultPort = "8080"
	}
	healthCmd.Flags().StringVar(&port, "port", defaultPort, "API server port (env: SERVER_PORT)")
	rootCmd.AddCommand(healthCmd)

	return rootCmd
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Execute(ctx, w, os.Stdout, args)
}

// Execute はコンテキストと出力先を指定してルートコマンドを実行する。
func Execute(ctx context.Context, logW, out io.Writer, args []string) error {
	rootCmd := NewRootCmd(logW)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	return rootCmd.ExecuteContext(ctx)
}
