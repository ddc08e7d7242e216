package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/sqprint/pkg/core"
	"github.com/liliang-cn/sqprint/pkg/sqprint"
)

var (
	envFile  string
	backend  string
	endpoint string
	user     string
	password string
	database string
	poolSize int
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:           "sqprint",
	Short:         "Landmark fingerprint index",
	Long:          `A command-line interface for storing and querying audio landmark hashes.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the fingerprint schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		fmt.Printf("%s index ready at %s\n", engine.Backend().Name(), endpoint)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		detailed, _ := cmd.Flags().GetBool("detailed")
		stats, err := engine.Stats().Collect(cmd.Context(), detailed)
		if err != nil {
			return xerrors.New(err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		var b strings.Builder
		if err := core.WriteReport(&b, stats, detailed); err != nil {
			return err
		}
		header := color.New(color.FgCyan, color.Bold)
		for _, line := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
			if strings.HasPrefix(line, "[") {
				header.Println(line)
			} else {
				fmt.Println(line)
			}
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all fingerprints and metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("refusing to clear the index without --force")
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.Clear(cmd.Context()); err != nil {
			return xerrors.New(err)
		}
		fmt.Println("index cleared")
		return nil
	},
}

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Manage resource metadata",
}

var metaGetCmd = &cobra.Command{
	Use:   "get <resource-id>",
	Short: "Show the metadata of a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseResourceID(args[0])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		m, ok, err := engine.Catalog().Get(cmd.Context(), id)
		if err != nil {
			return xerrors.New(err)
		}
		if !ok {
			fmt.Printf("resource %d not found\n", id)
			return nil
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(m, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("Resource %d\n", m.ResourceID)
		fmt.Printf("  Path: %s\n", m.Path)
		fmt.Printf("  Duration: %.3fs\n", m.Duration)
		fmt.Printf("  Fingerprints: %d\n", m.NumFingerprints)
		return nil
	},
}

var metaDeleteCmd = &cobra.Command{
	Use:   "delete <resource-id>",
	Short: "Delete the metadata of a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseResourceID(args[0])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		if err := engine.Catalog().Delete(cmd.Context(), id); err != nil {
			return xerrors.New(err)
		}
		fmt.Printf("metadata for resource %d deleted\n", id)
		return nil
	},
}

func parseResourceID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid resource id %q: %w", s, err)
	}
	return uint32(id), nil
}

// openEngine resolves configuration from the env file and flags, then opens the engine
func openEngine(cmd *cobra.Command) (*core.Engine, error) {
	cfg, err := core.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = core.BackendKind(strings.ToLower(backend))
	}
	if flags.Changed("endpoint") || cfg.Endpoint == "" && cfg.Backend == core.BackendSQLite {
		cfg.Endpoint = endpoint
	}
	if flags.Changed("user") {
		cfg.User = user
	}
	if flags.Changed("password") {
		cfg.Password = password
	}
	if flags.Changed("database") {
		cfg.Database = database
	}
	if flags.Changed("pool-size") {
		cfg.Pool.MaxOpen = poolSize
		if cfg.Pool.MinIdle > poolSize {
			cfg.Pool.MinIdle = poolSize
		}
	}
	endpoint = cfg.Endpoint

	if verbose {
		cfg.Logger = core.NewStdLogger(slog.LevelDebug)
	} else {
		cfg.Logger = core.NewStdLogger(slog.LevelWarn)
	}

	engine, err := sqprint.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, xerrors.New(err)
	}
	return engine, nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file with SQPRINT_* settings")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", string(core.BackendSQLite), "Backend (sqlite/mongo)")
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "d", "fingerprints.db", "SQLite path or MongoDB URI")
	rootCmd.PersistentFlags().StringVar(&user, "user", "", "Backend user")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "Backend password")
	rootCmd.PersistentFlags().StringVar(&database, "database", "sqprint", "MongoDB database name")
	rootCmd.PersistentFlags().IntVar(&poolSize, "pool-size", core.DefaultPoolConfig().MaxOpen, "Maximum backend connections")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	statsCmd.Flags().Bool("detailed", false, "Include per-corpus averages and extremes")
	statsCmd.Flags().Bool("json", false, "Output as JSON")

	clearCmd.Flags().Bool("force", false, "Confirm clearing the index")

	metaCmd.AddCommand(metaGetCmd, metaDeleteCmd)
	metaGetCmd.Flags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		initCmd,
		ingestCmd,
		deleteCmd,
		queryCmd,
		metaCmd,
		statsCmd,
		clearCmd,
		dumpCmd,
		loadCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		color.New(color.FgRed).Fprint(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		if verbose {
			fmt.Fprint(os.Stderr, xerrors.Sprint(err))
		}
		os.Exit(1)
	}
}
