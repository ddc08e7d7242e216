package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/sqprint/pkg/blobstore"
	minioblob "github.com/liliang-cn/sqprint/pkg/blobstore/minio"
	"github.com/liliang-cn/sqprint/pkg/core"
)

// Object storage settings; flags override the SQPRINT_S3_* environment
var (
	s3Endpoint  string
	s3AccessKey string
	s3SecretKey string
	s3Bucket    string
	s3Prefix    string
	s3Secure    bool
)

// blobTarget picks object storage when a bucket is configured and the local
// directory of name otherwise. It returns the store and the blob name in it.
func blobTarget(cmd *cobra.Command, name string) (blobstore.Store, string, error) {
	flags := cmd.Flags()
	pick := func(flag, env, val string) string {
		if flags.Changed(flag) {
			return val
		}
		return os.Getenv(env)
	}

	bucket := pick("s3-bucket", "SQPRINT_S3_BUCKET", s3Bucket)
	if bucket == "" {
		return blobstore.NewLocalStore(filepath.Dir(name)), filepath.Base(name), nil
	}

	opts := minioblob.Options{
		Endpoint:  pick("s3-endpoint", "SQPRINT_S3_ENDPOINT", s3Endpoint),
		AccessKey: pick("s3-access-key", "SQPRINT_S3_ACCESS_KEY", s3AccessKey),
		SecretKey: pick("s3-secret-key", "SQPRINT_S3_SECRET_KEY", s3SecretKey),
		Bucket:    bucket,
		Prefix:    pick("s3-prefix", "SQPRINT_S3_PREFIX", s3Prefix),
		Secure:    s3Secure || !flags.Changed("s3-secure") && os.Getenv("SQPRINT_S3_SECURE") == "true",
	}
	if opts.Endpoint == "" {
		return nil, "", fmt.Errorf("object storage bucket %q configured without an endpoint", bucket)
	}
	store, err := minioblob.Dial(opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to %s: %w", opts.Endpoint, err)
	}
	return store, name, nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump <name>",
	Short: "Export all fingerprints and metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		compression, _ := cmd.Flags().GetString("compression")
		level, _ := cmd.Flags().GetInt("level")

		if _, err := core.LoadConfig(envFile); err != nil {
			return err
		}
		store, name, err := blobTarget(cmd, args[0])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		opts := core.DumpOptions{
			Format:      core.DumpFormat(format),
			Compression: core.Compression(compression),
			ZstdLevel:   level,
		}

		pr, pw := io.Pipe()
		var (
			stats   *core.DumpStats
			dumpErr error
			done    = make(chan struct{})
		)
		go func() {
			defer close(done)
			stats, dumpErr = engine.Dump(cmd.Context(), pw, opts)
			pw.CloseWithError(dumpErr)
		}()

		err = store.Put(cmd.Context(), name, pr, -1)
		pr.CloseWithError(err)
		<-done
		if dumpErr != nil {
			return xerrors.New(dumpErr)
		}
		if err != nil {
			return xerrors.New(err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("Dumped %d resources and %d fingerprints to %s (%d bytes)\n",
			stats.Resources, stats.Records, args[0], stats.BytesWritten)
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <name>",
	Short: "Import a dump produced by the dump command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch")

		if _, err := core.LoadConfig(envFile); err != nil {
			return err
		}
		store, name, err := blobTarget(cmd, args[0])
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		rc, err := store.Get(cmd.Context(), name)
		if err != nil {
			return xerrors.New(err)
		}
		defer rc.Close()

		stats, err := engine.Load(cmd.Context(), rc, core.LoadOptions{BatchSize: batch})
		if err != nil {
			return xerrors.New(err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			data, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("Loaded %d resources and %d fingerprints in %d batches\n",
			stats.Resources, stats.Records, stats.Batches)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{dumpCmd, loadCmd} {
		c.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint (host:port)")
		c.Flags().StringVar(&s3AccessKey, "s3-access-key", "", "Object storage access key")
		c.Flags().StringVar(&s3SecretKey, "s3-secret-key", "", "Object storage secret key")
		c.Flags().StringVar(&s3Bucket, "s3-bucket", "", "Bucket holding dumps; local files are used when empty")
		c.Flags().StringVar(&s3Prefix, "s3-prefix", "", "Key prefix inside the bucket")
		c.Flags().BoolVar(&s3Secure, "s3-secure", false, "Use TLS for object storage")
		c.Flags().Bool("json", false, "Output as JSON")
	}

	dumpCmd.Flags().String("format", string(core.DumpFormatBinary), "Dump format (binary/jsonl)")
	dumpCmd.Flags().String("compression", string(core.CompressionZstd), "Compression (none/zstd/lz4)")
	dumpCmd.Flags().Int("level", 0, "Zstd level, 0 for the default")

	loadCmd.Flags().Int("batch", core.DefaultLoadOptions().BatchSize, "Records per insert transaction")
}
