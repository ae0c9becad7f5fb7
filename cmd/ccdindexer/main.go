// Command ccdindexer is the entrypoint wiring the node client, schema
// migration runtime, block writer, and indexer driver together (spec.md
// §6). It owns none of the domain logic itself — that lives in
// internal/store, internal/migrate, internal/indexer, and friends — it only
// parses flags, opens the database, and starts the sibling tasks under one
// root cancellation, the same division of labor as the teacher's cmd/utils
// App-building plus node/service.go's task lifecycle, generalized from a
// single long-running node.Node to an errgroup of siblings (spec.md §5).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v4"
	rcrowley "github.com/rcrowley/go-metrics"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ccdscan/indexer/internal/ccderr"
	"github.com/ccdscan/indexer/internal/indexer"
	"github.com/ccdscan/indexer/internal/migrate"
	"github.com/ccdscan/indexer/internal/nodeclient"
	"github.com/ccdscan/indexer/internal/notify"
	"github.com/ccdscan/indexer/internal/notify/kafkamirror"
	"github.com/ccdscan/indexer/internal/promexport"
	"github.com/ccdscan/indexer/internal/store"
	"github.com/ccdscan/indexer/internal/xlog"
)

var logger = xlog.NewModuleLogger(xlog.Cmd)

var (
	databaseURLFlag = cli.StringFlag{
		Name:   "database-url",
		Usage:  "PostgreSQL connection string",
		EnvVar: "DATABASE_URL",
	}
	nodeFlag = cli.StringSliceFlag{
		Name:  "node",
		Usage: "consensus node gRPC endpoint (repeatable; first reachable wins)",
	}
	indexerFlag = cli.BoolFlag{
		Name:  "indexer",
		Usage: "run the indexing driver against --node, after applying migrations",
	}
	schemaOutFlag = cli.StringFlag{
		Name:  "schema-out",
		Usage: "write GraphQL SDL to this path and exit (GraphQL layer is out of scope for this build)",
	}
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "address:port to serve /metrics on; the GraphQL/HTTP API itself is an external collaborator",
		Value: "127.0.0.1:8000",
	}
	kafkaMirrorFlag = cli.StringSliceFlag{
		Name:  "kafka-broker",
		Usage: "optional Kafka broker to additionally mirror block_added/account_updated notifications onto (repeatable)",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "ccdindexer"
	app.Usage = "Concordium-style block indexer and schema migration runtime"
	app.Flags = []cli.Flag{databaseURLFlag, nodeFlag, indexerFlag, schemaOutFlag, listenFlag, kafkaMirrorFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Crit("exiting", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if path := c.String(schemaOutFlag.Name); path != "" {
		return ccderr.Configuration(fmt.Errorf("ccdindexer: --schema-out %q not supported in this build: GraphQL SDL rendering is an external collaborator, out of scope", path))
	}

	dsn := c.String(databaseURLFlag.Name)
	if dsn == "" {
		return ccderr.Configuration(fmt.Errorf("ccdindexer: --database-url or DATABASE_URL is required"))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("received interrupt, shutting down")
		cancel()
	}()

	if addr := c.String(listenFlag.Name); addr != "" {
		serveMetrics(addr)
	}

	st, err := store.Open(ctx, store.Config{DSN: dsn})
	if err != nil {
		return err
	}
	defer st.Close(ctx)

	nodeEndpoints := []string(c.StringSlice(nodeFlag.Name))
	nc, closeNode, err := dialNode(nodeEndpoints)
	if err != nil {
		return err
	}
	if closeNode != nil {
		defer closeNode()
	}

	migrateConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("ccdindexer: migration connection: %w", err)
	}
	defer migrateConn.Close(ctx) //nolint:errcheck

	logger.Info("applying schema migrations")
	if err := migrate.Run(ctx, migrateConn, nc); err != nil {
		return fmt.Errorf("ccdindexer: migrations failed: %w", err)
	}

	if !c.Bool(indexerFlag.Name) {
		logger.Info("--indexer not set, exiting after migrations")
		return nil
	}
	if nc == nil {
		return ccderr.Configuration(fmt.Errorf("ccdindexer: --indexer requires at least one --node endpoint"))
	}

	if err := st.AcquireIndexerLock(ctx, dsn); err != nil {
		return err
	}

	startHeight, err := readStartHeight(ctx, st)
	if err != nil {
		return err
	}

	listenConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("ccdindexer: notify listener connection: %w", err)
	}
	defer listenConn.Close(ctx) //nolint:errcheck
	for _, channel := range []string{"block_added", "account_updated"} {
		if _, err := listenConn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("ccdindexer: LISTEN %s: %w", channel, err)
		}
	}
	listener := notify.NewListener(listenConn)

	mirror, closeMirror, err := dialKafkaMirror([]string(c.StringSlice(kafkaMirrorFlag.Name)))
	if err != nil {
		return err
	}
	if closeMirror != nil {
		defer closeMirror()
	}

	driver := indexer.NewDriver(nc, st.Pool, startHeight)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return driver.Run(gctx)
	})
	g.Go(func() error {
		return listener.Run(gctx)
	})
	if mirror != nil {
		g.Go(func() error {
			return mirrorNotifications(gctx, listener, mirror)
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ccdindexer: task failed: %w", err)
	}
	return nil
}

// serveMetrics starts a best-effort background HTTP server exposing the
// indexer driver's gauges (indexer/height, indexer/retries) as Prometheus
// metrics, bridging rcrowley/go-metrics the way the teacher's cmd/kcn/main.go
// does (minus the klaytn-internal bridge package that pattern relied on; see
// internal/promexport). A bind failure is logged, not fatal: /metrics is an
// observability add-on, not required for indexing to proceed.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promexport.Registry(rcrowley.DefaultRegistry), promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec
			logger.Warn("metrics server stopped", "addr", addr, "err", err)
		}
	}()
}

// dialNode connects a nodeclient.MultiClient when endpoints are given. No
// concrete gRPC stub for the consensus node's protobuf service is bundled in
// this module (no .proto schema was available to ground one on); production
// builds supply newStub via nodeclient.NewMultiClient directly. Here a nil
// stub constructor makes Connect a clean configuration error instead of a
// panic, matching spec.md §7's "missing node endpoint" fatal-at-startup case.
func dialNode(endpoints []string) (nodeclient.Client, func(), error) {
	if len(endpoints) == 0 {
		return nil, nil, nil
	}
	mc := nodeclient.NewMultiClient(endpoints, nodeclient.DefaultDialer, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mc.Connect(ctx); err != nil {
		return nil, nil, ccderr.Configuration(fmt.Errorf("ccdindexer: connecting to node: %w", err))
	}
	cl := mc.Client()
	if cl == nil {
		return nil, nil, nil
	}
	return cl, func() { _ = cl.Close() }, nil
}

func dialKafkaMirror(brokers []string) (*kafkamirror.Mirror, func(), error) {
	if len(brokers) == 0 {
		return nil, nil, nil
	}
	m, err := kafkamirror.NewMirror(kafkamirror.Config{Brokers: brokers, TopicPrefix: "ccdscan"}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ccdindexer: kafka mirror: %w", err)
	}
	return m, func() { _ = m.Close() }, nil
}

// mirrorNotifications fans the notify.Listener's block_added/account_updated
// stream out to the optional Kafka mirror, additive to the primary
// LISTEN/NOTIFY path (spec.md §4.8) and never allowed to block or fail it.
func mirrorNotifications(ctx context.Context, l *notify.Listener, m *kafkamirror.Mirror) error {
	blocks := l.Subscribe("block_added")
	accounts := l.Subscribe("account_updated")
	for {
		select {
		case p := <-blocks:
			if err := m.Publish(p); err != nil {
				logger.Warn("kafka mirror publish failed", "err", err)
			}
		case p := <-accounts:
			if err := m.Publish(p); err != nil {
				logger.Warn("kafka mirror publish failed", "err", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// readStartHeight resumes the driver at MAX(height)+1, or 0 for an empty
// database (spec.md §4.5). The query returns a non-nullable typed value by
// construction, per spec.md §9's guidance against `.expect("coalesced")`.
func readStartHeight(ctx context.Context, st *store.Store) (nodeclient.BlockHeight, error) {
	var maxHeight int64
	err := st.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(height), -1) FROM blocks`).Scan(&maxHeight)
	if err != nil {
		return 0, fmt.Errorf("ccdindexer: reading resume height: %w", err)
	}
	return nodeclient.BlockHeight(maxHeight + 1), nil
}
