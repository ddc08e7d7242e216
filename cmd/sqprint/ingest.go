package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/buger/jsonparser"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/sqprint/pkg/core"
)

// fingerprintFile is one extractor output file
type fingerprintFile struct {
	ResourceID uint32
	Path       string
	Duration   float32
	Hashes     []landmark
}

type landmark struct {
	Hash int64
	T1   uint32
}

var errNoHashes = errors.New("no hashes")

// parseFingerprintFile reads {"resource_id","path","duration","hashes":[{"hash","t1"}]}
func parseFingerprintFile(data []byte) (*fingerprintFile, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)

	rid := doc.Get("resource_id")
	if !rid.Exists() {
		return nil, fmt.Errorf("missing resource_id")
	}
	if rid.Uint() > uint64(^uint32(0)) {
		return nil, fmt.Errorf("resource_id %s out of range", rid.Raw)
	}

	f := &fingerprintFile{
		ResourceID: uint32(rid.Uint()),
		Path:       doc.Get("path").String(),
		Duration:   float32(doc.Get("duration").Float()),
	}

	hashes := doc.Get("hashes")
	if !hashes.IsArray() {
		return nil, fmt.Errorf("missing hashes array")
	}
	var perr error
	hashes.ForEach(func(_, v gjson.Result) bool {
		h := v.Get("hash")
		t := v.Get("t1")
		if !h.Exists() || !t.Exists() {
			perr = fmt.Errorf("hash entry %s lacks hash or t1", v.Raw)
			return false
		}
		f.Hashes = append(f.Hashes, landmark{Hash: h.Int(), T1: uint32(t.Uint())})
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return f, nil
}

// parseQueryHashes reads the "hashes" array of plain integers
func parseQueryHashes(data []byte) ([]int64, error) {
	var (
		hashes []int64
		perr   error
	)
	_, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if perr != nil || err != nil {
			return
		}
		switch dataType {
		case jsonparser.Number:
			n, err := jsonparser.ParseInt(value)
			if err != nil {
				perr = fmt.Errorf("invalid hash %s: %w", value, err)
				return
			}
			hashes = append(hashes, n)
		case jsonparser.Object:
			n, err := jsonparser.GetInt(value, "hash")
			if err != nil {
				perr = fmt.Errorf("invalid hash entry %s: %w", value, err)
				return
			}
			hashes = append(hashes, n)
		default:
			perr = fmt.Errorf("unexpected %s in hashes", dataType)
		}
	}, "hashes")
	if err != nil {
		return nil, fmt.Errorf("failed to read hashes: %w", err)
	}
	if perr != nil {
		return nil, perr
	}
	if len(hashes) == 0 {
		return nil, errNoHashes
	}
	return hashes, nil
}

// expandInputs turns directories into the *.json files they contain
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(arg, "*.json"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

type runTotals struct {
	files   atomic.Int64
	records atomic.Int64
	failed  atomic.Int64
}

// forEachFile runs fn over files with at most workers in flight. Failures are
// reported per file and do not stop the others.
func forEachFile(ctx context.Context, files []string, workers int, fn func(ctx context.Context, path string, f *fingerprintFile) error) *runTotals {
	totals := &runTotals{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, path := range files {
		path := path
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err == nil {
				var f *fingerprintFile
				if f, err = parseFingerprintFile(data); err == nil {
					err = fn(gctx, path, f)
					if err == nil {
						totals.files.Add(1)
						totals.records.Add(int64(len(f.Hashes)))
						return nil
					}
				}
			}
			totals.failed.Add(1)
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			if verbose {
				fmt.Fprint(os.Stderr, xerrors.Sprint(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return totals
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Store extracted fingerprints and their metadata",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		workers, _ := cmd.Flags().GetInt("workers")
		batch, _ := cmd.Flags().GetInt("batch")
		queue := engine.Queue()

		totals := forEachFile(cmd.Context(), files, workers, func(ctx context.Context, path string, f *fingerprintFile) error {
			owner := core.NewOwner()
			defer queue.Release(owner)

			for _, lm := range f.Hashes {
				queue.EnqueueWrite(owner, lm.Hash, f.ResourceID, lm.T1)
				if batch > 0 && queue.Pending(owner).Writes >= batch {
					if err := queue.FlushWrites(ctx, owner); err != nil {
						queue.DiscardPending(owner)
						return xerrors.New(err)
					}
				}
			}
			if err := queue.FlushWrites(ctx, owner); err != nil {
				queue.DiscardPending(owner)
				return xerrors.New(err)
			}

			name := f.Path
			if name == "" {
				name = path
			}
			if err := engine.Catalog().Upsert(ctx, f.ResourceID, name, f.Duration, int32(len(f.Hashes))); err != nil {
				return xerrors.New(err)
			}
			return nil
		})

		fmt.Printf("Ingested %d files (%d fingerprints)", totals.files.Load(), totals.records.Load())
		if n := totals.failed.Load(); n > 0 {
			fmt.Printf(", %d failed\n", n)
			return fmt.Errorf("%d of %d files failed", n, len(files))
		}
		fmt.Println()
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <file|dir>...",
	Short: "Remove the fingerprints and metadata listed in extractor files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := expandInputs(args)
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		workers, _ := cmd.Flags().GetInt("workers")
		queue := engine.Queue()

		totals := forEachFile(cmd.Context(), files, workers, func(ctx context.Context, _ string, f *fingerprintFile) error {
			owner := core.NewOwner()
			defer queue.Release(owner)

			for _, lm := range f.Hashes {
				queue.EnqueueDelete(owner, lm.Hash, f.ResourceID, lm.T1)
			}
			if err := queue.FlushDeletes(ctx, owner); err != nil {
				return xerrors.New(err)
			}
			if err := engine.Catalog().Delete(ctx, f.ResourceID); err != nil {
				return xerrors.New(err)
			}
			return nil
		})

		fmt.Printf("Deleted %d files (%d fingerprints)\n", totals.files.Load(), totals.records.Load())
		if n := totals.failed.Load(); n > 0 {
			return fmt.Errorf("%d of %d files failed", n, len(files))
		}
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <file>",
	Short: "Find stored fingerprints near the hashes in a query file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		hashes, err := parseQueryHashes(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		rng, _ := cmd.Flags().GetInt64("range")
		excludeFlag, _ := cmd.Flags().GetString("exclude")
		excluded, err := parseExclusions(excludeFlag)
		if err != nil {
			return err
		}

		engine, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer engine.Close()

		queue := engine.Queue()
		owner := core.NewOwner()
		defer queue.Release(owner)

		for _, h := range hashes {
			queue.EnqueueQuery(owner, h)
		}
		acc, err := queue.FlushQueries(cmd.Context(), owner, rng, core.ExcludeResources(excluded...))
		if err != nil {
			return xerrors.New(err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			out := make(map[string][]core.Hit, acc.Len())
			for _, k := range acc.Keys() {
				hits, _ := acc.Hits(k)
				out[strconv.FormatInt(k, 10)] = hits
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("%d of %d query hashes matched (%d hits)\n", acc.Len(), len(hashes), acc.TotalHits())
		for _, k := range acc.Keys() {
			hits, _ := acc.Hits(k)
			fmt.Printf("%d:\n", k)
			for _, h := range hits {
				fmt.Printf("  hash=%d resource=%d t1=%d\n", h.MatchedHash, h.ResourceID, h.T1)
			}
		}
		return nil
	},
}

func parseExclusions(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []uint32
	for _, part := range strings.Split(s, ",") {
		id, err := parseResourceID(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func init() {
	ingestCmd.Flags().Int("workers", 4, "Files processed in parallel")
	ingestCmd.Flags().Int("batch", 10000, "Pending writes per flush (0 flushes once per file)")

	deleteCmd.Flags().Int("workers", 4, "Files processed in parallel")

	queryCmd.Flags().Int64("range", 0, "Match stored hashes within this distance")
	queryCmd.Flags().String("exclude", "", "Comma-separated resource ids to ignore")
	queryCmd.Flags().Bool("json", false, "Output as JSON")
}
