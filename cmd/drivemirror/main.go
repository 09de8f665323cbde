package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"drivemirror/internal/app"
	"drivemirror/internal/config"
	"drivemirror/internal/mirror"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig loads the config file named by the application defaults.
func readConfig() (*config.Config, map[string]string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults, nil
}

// newApp reads the config and creates a MirrorApp. The caller must defer app.Close().
func newApp(ctx context.Context) (*app.MirrorApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewMirrorApp(ctx, cfg, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "drivemirror",
	Short:        "Local permission mirror of Google Drive",
	SilenceUsage: true,
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

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Credentials: %s\n", cfg.Drive.CredentialsPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Log Level: %s\n", cfg.LogLevel)
		fmt.Printf("Database:  %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Drive:     %s (page size %d)\n", cfg.Drive.Type, cfg.Drive.PageSize)
		fmt.Printf("Keys:      %s %s\n", cfg.Encryption.Type, cfg.Encryption.PublicKeyPath)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage snapshot keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the snapshot key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}
		if err := app.SetupKeys(cfg.Encryption, passphrase); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rebuild the mirror from the remote listing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		if err := a.Sync(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("Mirror synced in %s\n", time.Since(start).Truncate(time.Millisecond))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mirror readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.Status(ctx)
		if err != nil {
			return err
		}
		return printOutput(cmd, st, func() {
			fmt.Printf("State:     %s since %s\n", st.State, st.Since.Format(timeLayout))
			if st.Error != "" {
				fmt.Printf("Error:     %s\n", st.Error)
			}
			if st.LastSync != nil {
				fmt.Printf("Last sync: %s\n", st.LastSync.StartedAt.Format(timeLayout))
			} else {
				fmt.Println("Last sync: never")
			}
			fmt.Printf("Database:  %s\n", st.Database)
		})
	},
}

// files command
var filesCmd = &cobra.Command{
	Use:   "files [ID...]",
	Short: "List mirrored files",
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, _ := cmd.Flags().GetBool("tree")
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if tree {
			if len(args) > 0 {
				return errors.New("--tree lists the whole mirror and takes no ids")
			}
			nodes, err := a.GetFileTree(ctx)
			if err != nil {
				return err
			}
			return printOutput(cmd, nodes, func() { printTree(nodes, 0) })
		}

		files, err := a.GetFiles(ctx, args)
		if err != nil {
			return err
		}
		return printOutput(cmd, files, func() {
			if len(files) == 0 {
				fmt.Println("No files mirrored.")
			}
			for _, f := range files {
				printFile(f, 0)
			}
		})
	},
}

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List permissions of a file or a grantee",
	RunE: func(cmd *cobra.Command, args []string) error {
		fileID, _ := cmd.Flags().GetString("file")
		email, _ := cmd.Flags().GetString("email")
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		perms, err := a.GetPermissions(ctx, mirror.PermissionQuery{FileID: fileID, EmailAddress: email})
		if err != nil {
			return err
		}
		return printOutput(cmd, perms, func() {
			if len(perms) == 0 {
				fmt.Println("No permissions found.")
			}
			for _, p := range perms {
				printPermission(p, 0)
			}
		})
	},
}

var shareCmd = &cobra.Command{
	Use:   "share FILE ROLE TYPE [GRANTEE]",
	Short: "Grant one permission on one file",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		grantee := ""
		if len(args) == 4 {
			grantee = args[3]
		}
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		perm, err := a.Share(ctx, args[0], mirror.Role(args[1]), mirror.GranteeType(args[2]), grantee)
		if err != nil {
			return err
		}
		return printOutput(cmd, perm, func() { printPermission(*perm, 0) })
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare FILE PERMISSION_ID",
	Short: "Revoke one permission of one file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Unshare(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Removed permission %s from %s\n", args[1], args[0])
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a role on whole subtrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		fileIDs, _ := cmd.Flags().GetStringSlice("file")
		role, _ := cmd.Flags().GetString("role")
		granteeType, _ := cmd.Flags().GetString("type")
		emails, _ := cmd.Flags().GetStringSlice("email")
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Grant(ctx, fileIDs, mirror.Role(role), mirror.GranteeType(granteeType), emails)
		if err != nil {
			printAborted(err)
			return err
		}
		return printOutput(cmd, res, func() { printBulk(res) })
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke permissions on whole subtrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		fileIDs, _ := cmd.Flags().GetStringSlice("file")
		emails, _ := cmd.Flags().GetStringSlice("email")
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Revoke(ctx, fileIDs, emails)
		if err != nil {
			printAborted(err)
			return err
		}
		return printOutput(cmd, res, func() { printBulk(res) })
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View mirror operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(ctx, limit)
		if err != nil {
			return err
		}
		return printOutput(cmd, ops, func() {
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
			}
			for _, op := range ops {
				duration := ""
				if op.FinishedAt != nil {
					duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-18s  %s  %-8s  %-8s  %s\n",
					op.ID,
					op.Operation,
					op.StartedAt.Format(timeLayout),
					op.Status,
					duration,
					op.Parameters,
				)
			}
		})
	},
}

// snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Export or import encrypted mirror snapshots",
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export PATH",
	Short: "Write an encrypted snapshot of the mirror",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ExportSnapshot(ctx, args[0]); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Snapshot written to %s\n", args[0])
		return nil
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import PATH",
	Short: "Replace the mirror with an encrypted snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		if err := app.ImportSnapshot(cmd.Context(), cfg, args[0], passphrase); err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		fmt.Printf("Mirror restored from %s\n", args[0])
		return nil
	},
}

// printAborted lists the changes a failed bulk run already applied.
func printAborted(err error) {
	var merr *mirror.Error
	if !errors.As(err, &merr) || len(merr.Outcomes) == 0 {
		return
	}
	applied := merr.Succeeded()
	fmt.Fprintf(os.Stderr, "Aborted after %d applied change(s):\n", len(applied))
	for _, o := range merr.Outcomes {
		fmt.Fprintf(os.Stderr, "  %-17s %s %s %s\n", o.Status, o.Action, o.FileID, outcomeTarget(o))
	}
}

func outcomeTarget(o mirror.Outcome) string {
	return strings.TrimSpace(o.Email + " " + o.PermissionID)
}

func init() {
	rootCmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json or yaml")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)

	filesCmd.Flags().Bool("tree", false, "Show files nested under their parents")

	permissionsCmd.Flags().String("file", "", "File whose permissions to list")
	permissionsCmd.Flags().String("email", "", "Grantee email whose permissions to list")
	permissionsCmd.MarkFlagsOneRequired("file", "email")
	permissionsCmd.MarkFlagsMutuallyExclusive("file", "email")

	grantCmd.Flags().StringSlice("file", nil, "Root of a subtree to grant on (repeatable)")
	grantCmd.Flags().String("role", "", "Role to grant")
	grantCmd.Flags().String("type", string(mirror.GranteeUser), "Grantee type")
	grantCmd.Flags().StringSlice("email", nil, "Grantee email (repeatable)")
	grantCmd.MarkFlagRequired("file")
	grantCmd.MarkFlagRequired("role")
	grantCmd.MarkFlagRequired("email")

	revokeCmd.Flags().StringSlice("file", nil, "Root of a subtree to revoke on (repeatable)")
	revokeCmd.Flags().StringSlice("email", nil, "Only revoke these grantees (repeatable)")
	revokeCmd.MarkFlagRequired("file")

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(unshareCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(snapshotCmd)
}
