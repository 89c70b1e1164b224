package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jbweber/marionette/internal/config"
	"github.com/jbweber/marionette/internal/libvirt"
	"github.com/jbweber/marionette/internal/output"
	"github.com/jbweber/marionette/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	cfgFile      string
	outputFormat string
	noHeaders    bool

	v   = viper.New()
	cfg *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marionette",
	Short: "Marionette - remote control for libvirt virtual machines",
	Long: `Marionette drives libvirt virtual machines through their virtual mouse
and keyboard.

It attaches to a running machine or starts a throwaway linked clone of a
template, then replays batches of input actions against it, either from
a YAML file or through an HTTP API.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return setupLogging(cfg.Log.Level)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/marionette/config.yaml)")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.String("socket", libvirt.DefaultSocket, "libvirt daemon socket")
	flags.String("layout", "us", "keyboard layout")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format (table, yaml, json)")
	flags.BoolVar(&noHeaders, "no-headers", false, "omit table headers")

	mustBind(flags, "log.level", "log-level")
	mustBind(flags, "libvirt.socket", "socket")
	mustBind(flags, "keyboard.layout", "layout")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(clonesCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(layoutsCmd)
	rootCmd.AddCommand(testConnCmd)
}

// mustBind binds a flag of fs to a config key so the flag overrides the
// config file and environment when set.
func mustBind(fs *pflag.FlagSet, key, flag string) {
	if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", flag, err))
	}
}

func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// connect opens the libvirt connection described by the configuration.
// The caller must close the returned client.
func connect(ctx context.Context) (*libvirt.Client, error) {
	client, err := libvirt.ConnectWithContext(ctx, cfg.Libvirt.Socket, cfg.Libvirt.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	return client, nil
}

func closeClient(client *libvirt.Client) {
	if err := client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
	}
}

func newStorage(client *libvirt.Client) *storage.Manager {
	return storage.NewManager(client.Libvirt(), storage.WithClonePool(cfg.Clone.Pool, cfg.Clone.Path))
}

// newHypervisor returns the libvirt hypervisor with the configured clone
// pool and lock directory.
func newHypervisor(client *libvirt.Client) *libvirt.Hypervisor {
	return libvirt.NewHypervisor(client,
		libvirt.WithStorage(newStorage(client)),
		libvirt.WithLockDir(cfg.Lock.Dir),
	)
}

func newFormatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Testing libvirt connection...")

		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		fmt.Println("✓ Connected to libvirt daemon")

		version, err := client.Ping()
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Printf("✓ Libvirt version: %s\n", libvirt.FormatVersion(version))

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		uri, err := client.Libvirt().ConnectGetUri()
		if err != nil {
			return fmt.Errorf("failed to get connection URI: %w", err)
		}
		fmt.Printf("✓ Connection URI: %s\n", uri)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
