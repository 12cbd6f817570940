// Command netbench drives concurrent HTTP requests through the engine
// against one URL and reports throughput and latency percentiles, the
// same measurement this tree's DNS-server ancestor once took against a
// UDP listener, repointed at an HTTP origin.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/options"
	"github.com/meridian-net/netengine/internal/resolver"
	"github.com/meridian-net/netengine/internal/session"
	"github.com/meridian-net/netengine/internal/urlrequest"
)

func main() {
	var (
		url         = flag.String("url", "https://example.com/", "URL to fetch")
		concurrency = flag.Int("concurrency", 50, "Number of concurrent workers")
		requests    = flag.Int("requests", 2000, "Total number of requests")
		timeout     = flag.Duration("timeout", 5*time.Second, "Per-request timeout")
		upstream    = flag.String("dns-upstream", "8.8.8.8:53", "Recursive resolver for the built-in DNS client")
	)
	flag.Parse()

	opts := &options.Options{}
	if err := options.Validate(opts); err != nil {
		panic(err)
	}

	eng, err := engine.Build(opts)
	if err != nil {
		panic(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	}()

	res := resolver.New(opts.DNS, []string{*upstream}, eng.NetLog())
	defer res.Close()

	altSvc := session.NewAltSvcRegistry()
	dialer := urlrequest.NewTransports(opts, res, altSvc, &tls.Config{})
	pool := session.NewPool(dialer.Dial, altSvc)
	manager := urlrequest.NewManager(eng, pool, engine.InlineExecutor, nil)

	conc := *concurrency
	if conc < 1 {
		conc = 1
	}
	total := *requests
	if total < 1 {
		total = 1
	}
	per := total / conc
	rem := total % conc

	var latMu sync.Mutex
	lat := make([]float64, 0, total)
	var failed int64

	t0 := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < conc; i++ {
		n := per
		if i < rem {
			n++
		}
		wg.Add(1)
		go func(count int) {
			defer wg.Done()
			for j := 0; j < count; j++ {
				start := time.Now()
				if err := issueOne(manager, *url, timeout); err != nil {
					latMu.Lock()
					failed++
					latMu.Unlock()
					continue
				}
				ms := float64(time.Since(start).Microseconds()) / 1000.0
				latMu.Lock()
				lat = append(lat, ms)
				latMu.Unlock()
			}
		}(n)
	}
	wg.Wait()
	elapsed := time.Since(t0).Seconds()

	if len(lat) == 0 {
		fmt.Println("no successful requests")
		return
	}
	sort.Float64s(lat)
	qps := float64(len(lat)) / elapsed

	fmt.Printf("url=%s concurrency=%d requests=%d succeeded=%d failed=%d\n", *url, conc, total, len(lat), failed)
	fmt.Printf("elapsed_s=%.3f qps=%.1f\n", elapsed, qps)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n",
		percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[0], lat[len(lat)-1])
}

func issueOne(manager *urlrequest.Manager, url string, timeout time.Duration) error {
	done := make(chan error, 1)
	req, err := manager.NewRequest(urlrequest.Params{
		Method:         "GET",
		URL:            url,
		RequestTimeout: timeout,
	}, urlrequest.CallbackFuncs{
		Succeeded: func(r *urlrequest.Request, info *urlrequest.ResponseInfo) { done <- nil },
		Failed:    func(r *urlrequest.Request, info *urlrequest.ResponseInfo, err error) { done <- err },
		Canceled:  func(r *urlrequest.Request, info *urlrequest.ResponseInfo) { done <- fmt.Errorf("canceled") },
	})
	if err != nil {
		return err
	}
	if err := req.Start(); err != nil {
		return err
	}
	return <-done
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
