// Command netengined runs the network engine as a standalone daemon: it
// builds the engine, the DNS resolver, the session pool, and the HTTP
// cache, then exposes them all through the introspection REST API so an
// operator can watch what the engine is doing without embedding it in a
// larger program.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meridian-net/netengine/internal/api"
	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/httpcache"
	"github.com/meridian-net/netengine/internal/options"
	"github.com/meridian-net/netengine/internal/resolver"
	"github.com/meridian-net/netengine/internal/session"
	"github.com/meridian-net/netengine/internal/stats"
	"github.com/meridian-net/netengine/internal/urlrequest"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	apiHost    string
	apiPort    int
	apiKey     string
	dashboard  string
	upstreams  string
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file (overridden by NETENGINE_* env vars)")
	flag.StringVar(&f.apiHost, "api-host", "127.0.0.1", "Introspection API bind host")
	flag.IntVar(&f.apiPort, "api-port", 8080, "Introspection API bind port")
	flag.StringVar(&f.apiKey, "api-key", "", "Shared secret required on /api/v1/* (empty disables auth)")
	flag.StringVar(&f.dashboard, "dashboard-dir", "", "Directory to serve as a static operator dashboard at /")
	flag.StringVar(&f.upstreams, "dns-upstreams", "8.8.8.8:53,1.1.1.1:53", "Comma-separated recursive resolvers for the built-in DNS client")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	opts, err := options.Load(options.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("loading options: %w", err)
	}

	eng, err := engine.Build(opts)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	logger := eng.Logger()
	logger.Info("netengined starting",
		"enable_http2", opts.Transport.EnableHTTP2,
		"enable_quic", opts.Transport.EnableQUIC,
		"cache_mode", opts.Cache.Mode.String(),
	)

	res := resolver.New(opts.DNS, splitUpstreams(flags.upstreams), eng.NetLog())
	defer res.Close()

	altSvc := session.NewAltSvcRegistry()
	dialer := urlrequest.NewTransports(opts, res, altSvc, &tls.Config{})
	pool := session.NewPool(dialer.Dial, altSvc)

	// Network-change wiring: a default-network change first gives every
	// QUIC session a chance to migrate onto the new network in place,
	// then flushes whatever the migration pass left pinned to the old
	// one — host cache entries (unless cross-network DNS reuse is allowed)
	// and non-migratable HTTP/1.1 and HTTP/2 sessions alike. Order matters: a session that just migrated no
	// longer carries the old binding, so the flush pass skips it.
	eng.AddNetworkChangeListener(engine.NetworkChangeListenerFunc(func(ev engine.NetworkChangeEvent) {
		if ev.Kind == engine.NetworkChangeDefault {
			pool.NotifyDefaultNetworkChanged(ev.Network)
		}
	}))
	eng.AddNetworkChangeListener(engine.NetworkChangeListenerFunc(func(ev engine.NetworkChangeEvent) {
		if ev.Kind != engine.NetworkChangeDefault || ev.Previous.IsUnbound() {
			return
		}
		if !opts.DNS.AllowCrossNetworkUsage {
			res.Cache().FlushNetwork(ev.Previous)
		}
		pool.FlushNetwork(ev.Previous)
	}))

	var cache httpcache.Cache
	if opts.Cache.Mode != options.CacheDisabled {
		cache, err = httpcache.NewCache(opts.Cache)
		if err != nil {
			return fmt.Errorf("building HTTP cache: %w", err)
		}
	}

	manager := urlrequest.NewManager(eng, pool, engine.InlineExecutor, nil)
	if cache != nil {
		manager.SetCache(cache)
	}

	apiSrv := api.New(eng, flags.apiHost, flags.apiPort, flags.apiKey, flags.dashboard, logger)
	apiSrv.Handler().SetHostCache(res.Cache())
	apiSrv.Handler().SetSessionPool(pool)
	if cache != nil {
		apiSrv.Handler().SetCache(cache)
	}

	pressure := stats.NewPressureMonitor(30*time.Second, res.Cache().EvictLRU, logger)
	pressure.Start()
	defer pressure.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("introspection API listening", "addr", apiSrv.Addr())
	go func() {
		if serveErr := apiSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("introspection API exited", "err", serveErr)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("netengined shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("introspection API shutdown error", "err", err)
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown error", "err", err)
	}
	return nil
}

func splitUpstreams(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
