package main

import (
	"fmt"
	"os"
	"syscall"

	"tanglestore/internal/app"
	"tanglestore/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(ctx). operation identifies the CLI command being run.
func newApp(cmd *cobra.Command, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cmd.Context(), cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts for a passphrase without echo. When confirm is
// set, the passphrase is entered twice and must match.
func readPassphrase(confirm bool) ([]byte, error) {
	fmt.Fprint(os.Stderr, "Passphrase: ")
	passphrase, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase must not be empty")
	}

	if confirm {
		fmt.Fprint(os.Stderr, "Confirm passphrase: ")
		again, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		if string(passphrase) != string(again) {
			return nil, fmt.Errorf("passphrases do not match")
		}
	}
	return passphrase, nil
}

var rootCmd = &cobra.Command{
	Use:   "tanglestore",
	Short: "Encrypted offline-first persistence and sync",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s (%s)\n", cfg.Store.Type, cfg.Store.Name)
		fmt.Printf("Crypto:     %s\n", cfg.Crypto.Type)
		if len(cfg.Sync.Relays) > 0 {
			fmt.Printf("Relays:     %v\n", cfg.Sync.Relays)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage per-store encryption keys",
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stores and their key lineage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListKeys")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		keys, err := a.ListKeys(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No stores registered.")
			return nil
		}

		for _, info := range keys {
			fmt.Printf("%-12s  active:%s  keys:%d\n", info.StoreID, info.ActiveKeyID, info.KeyCount)
		}
		return nil
	},
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate STORE_ID",
	Short: "Rotate a store's active key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "RotateKey")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		keyID, err := a.RotateKey(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("rotating key: %w", err)
		}

		fmt.Printf("Rotated %s, new active key: %s\n", args[0], keyID)
		fmt.Println("Existing data stays readable and re-encrypts on next access.")
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export and import encrypted backup bundles",
}

var backupExportCmd = &cobra.Command{
	Use:   "export FILE",
	Short: "Export all stores into a passphrase-encrypted bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := readPassphrase(true)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "BackupExport")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		blob, err := a.ExportBundle(cmd.Context(), passphrase)
		if err != nil {
			return fmt.Errorf("exporting bundle: %w", err)
		}

		if err := os.WriteFile(args[0], blob, 0600); err != nil {
			return fmt.Errorf("writing bundle: %w", err)
		}
		fmt.Printf("Bundle written to %s (%d bytes)\n", args[0], len(blob))
		return nil
	},
}

var backupImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Restore stores from a bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}

		passphrase, err := readPassphrase(false)
		if err != nil {
			return err
		}

		a, err := newApp(cmd, "BackupImport")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if err := a.ImportBundle(cmd.Context(), blob, passphrase); err != nil {
			return fmt.Errorf("importing bundle: %w", err)
		}
		fmt.Println("Bundle imported.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Publish pending events to relays",
	RunE: func(cmd *cobra.Command, args []string) error {
		relays, _ := cmd.Flags().GetStringSlice("relay")
		signers, _ := cmd.Flags().GetStringSlice("signer")

		a, err := newApp(cmd, "Sync")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		summary, syncErr := a.Sync(cmd.Context(), relays, signers)
		if summary != nil {
			fmt.Printf("Total:     %d\n", summary.Total)
			fmt.Printf("Published: %d\n", summary.Published)
			fmt.Printf("Failed:    %d\n", summary.Failed)
			fmt.Printf("Skipped:   %d\n", summary.Skipped)
			for _, pub := range summary.MissingSigners {
				fmt.Printf("Missing signer: %s\n", pub)
			}
		}
		return syncErr
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View device status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Status")
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		status, err := a.GetStatus(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Device ID: %s\n", status.DeviceID)
		fmt.Printf("Stores:    %d\n", status.Stores)
		fmt.Printf("Farms:     %d\n", status.Farms)
		fmt.Printf("Events:    %d\n", status.Events)
		if status.Migrated {
			fmt.Printf("Schema:    v%d\n", status.SchemaVer)
		} else {
			fmt.Println("Schema:    not migrated")
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRotateCmd)

	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupImportCmd)

	syncCmd.Flags().StringSlice("relay", nil, "Relay URL (repeatable; defaults to configured relays)")
	syncCmd.Flags().StringSlice("signer", nil, "Signer secret key, hex or nsec (repeatable)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}
