package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/messaging-e2e/internal/config"
	"github.com/gotrs-io/messaging-e2e/internal/fixture"
	"github.com/gotrs-io/messaging-e2e/internal/scenario"
	"github.com/gotrs-io/messaging-e2e/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "messaging-e2e",
	Short: "Browser round trip for the messaging configuration editor",
	Long: `messaging-e2e drives a real browser through the messaging editor:
open the modal, replace its content, save, reload the page, reopen the
modal and check that the saved text is still there.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("messaging-e2e %s\n", rootCmd.Version)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the messaging round trip once",
	Long: `Run starts (or attaches to) the application, enables experimental
features and performs the messaging editor round trip.

Configuration is read from default.yaml and config.yaml in --config, then
MSGE2E_* environment variables.`,
	RunE: runRoundTrip,
}

var fixtureCmd = &cobra.Command{
	Use:   "fixture",
	Short: "Serve the bundled fixture application",
	RunE:  runFixture,
}

var (
	configDirFlag string
	textFlag      string
	headlessFlag  bool

	listenFlag    string
	databaseFlag  string
	passwordFlag  string
	saveDelayFlag time.Duration
)

func init() {
	runCmd.Flags().StringVar(&configDirFlag, "config", "./config", "Directory containing default.yaml and config.yaml")
	runCmd.Flags().StringVar(&textFlag, "text", "", "Text to write into the editor (default from protocol.text)")
	runCmd.Flags().BoolVar(&headlessFlag, "headless", true, "Run the browser headless")

	fixtureCmd.Flags().StringVar(&listenFlag, "listen", "127.0.0.1:7070", "Address to listen on")
	fixtureCmd.Flags().StringVar(&databaseFlag, "database", "fixture.db", "SQLite database file")
	fixtureCmd.Flags().StringVar(&passwordFlag, "password", "", "Administrator password; enables the login modal")
	fixtureCmd.Flags().DurationVar(&saveDelayFlag, "save-delay", 0, "Delay before answering a save")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(fixtureCmd)
	rootCmd.AddCommand(versionCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRoundTrip(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDirFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = headlessFlag
	}
	text := cfg.Protocol.Text
	if textFlag != "" {
		text = textFlag
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := scenario.NewRunner(cfg).Run(ctx, text)
	fmt.Print(res.Report())
	return err
}

func runFixture(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, err := fixture.OpenStore(ctx, databaseFlag)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	srv := fixture.NewServer(store, fixture.Options{
		AdminPassword: passwordFlag,
		SaveDelay:     saveDelayFlag,
	})
	return srv.ListenAndServe(ctx, listenFlag)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
