// Package sqprint provides an embeddable landmark-hash fingerprint store for
// audio identification pipelines.
//
// Fingerprints are (hash, resource id, t1) triples. They are appended in
// batches, removed by exact match and looked up with closed range windows
// around a query hash. Each indexed resource also keeps one metadata row
// with its path, duration and fingerprint count.
//
// # Backends
//
//   - SQLite through modernc.org/sqlite (no cgo), the default.
//   - MongoDB, selected with Config.Backend = core.BackendMongo.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/liliang-cn/sqprint/pkg/core"
//	    "github.com/liliang-cn/sqprint/pkg/sqprint"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    engine, _ := sqprint.Open(ctx, sqprint.DefaultConfig("fingerprints.db"))
//	    defer engine.Close()
//
//	    owner := core.NewOwner()
//	    q := engine.Queue()
//	    q.EnqueueWrite(owner, 1000, 1, 5)
//	    _ = q.FlushWrites(ctx, owner)
//
//	    q.EnqueueQuery(owner, 1001)
//	    hits, _ := q.FlushQueries(ctx, owner, 2, nil)
//	}
//
// Configuration can also come from SQPRINT_* environment variables and .env
// files through OpenFromEnv.
package sqprint
