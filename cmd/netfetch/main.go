// Command netfetch issues a single HTTP request through the engine and
// prints the result, the way curl exercises an HTTP client library: a
// small diagnostic tool for checking what protocol, cache behavior, and
// timing a single URL actually gets.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/meridian-net/netengine/internal/engine"
	"github.com/meridian-net/netengine/internal/options"
	"github.com/meridian-net/netengine/internal/resolver"
	"github.com/meridian-net/netengine/internal/session"
	"github.com/meridian-net/netengine/internal/urlrequest"
)

func main() {
	var (
		url      = flag.String("url", "https://example.com/", "URL to fetch")
		method   = flag.String("method", "GET", "HTTP method")
		timeout  = flag.Duration("timeout", 10*time.Second, "Per-request timeout")
		quiet    = flag.Bool("quiet", false, "Suppress body/header output (exit status indicates success)")
		upstream = flag.String("dns-upstream", "8.8.8.8:53", "Recursive resolver for the built-in DNS client")
	)
	flag.Parse()

	if err := fetch(*url, *method, *timeout, *upstream, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "netfetch error: %v\n", err)
		os.Exit(1)
	}
}

func fetch(url, method string, timeout time.Duration, upstream string, quiet bool) error {
	opts := &options.Options{}
	if err := options.Validate(opts); err != nil {
		return err
	}

	eng, err := engine.Build(opts)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	}()

	res := resolver.New(opts.DNS, []string{upstream}, eng.NetLog())
	defer res.Close()

	altSvc := session.NewAltSvcRegistry()
	dialer := urlrequest.NewTransports(opts, res, altSvc, &tls.Config{})
	pool := session.NewPool(dialer.Dial, altSvc)

	manager := urlrequest.NewManager(eng, pool, engine.InlineExecutor, nil)

	done := make(chan error, 1)
	var start time.Time
	req, err := manager.NewRequest(urlrequest.Params{
		Method:         method,
		URL:            url,
		RequestTimeout: timeout,
	}, urlrequest.CallbackFuncs{
		Started: func(r *urlrequest.Request, info *urlrequest.ResponseInfo) {
			start = info.Metrics.StartTime
			if !quiet {
				fmt.Printf("status=%d protocol=%s cached=%v\n", info.HTTPStatusCode, info.NegotiatedProtocol, info.WasCached)
				for k, v := range info.Headers {
					fmt.Printf("  %s: %s\n", k, v[0])
				}
			}
		},
		Read: func(r *urlrequest.Request, info *urlrequest.ResponseInfo, data []byte) {
			if !quiet {
				os.Stdout.Write(data)
			}
		},
		Succeeded: func(r *urlrequest.Request, info *urlrequest.ResponseInfo) {
			if !quiet {
				fmt.Printf("\n%d bytes in %s\n", info.ReceivedByteCount, info.Metrics.EndTime.Sub(start))
			}
			done <- nil
		},
		Failed: func(r *urlrequest.Request, info *urlrequest.ResponseInfo, err error) {
			done <- err
		},
		Canceled: func(r *urlrequest.Request, info *urlrequest.ResponseInfo) {
			done <- fmt.Errorf("request canceled")
		},
	})
	if err != nil {
		return err
	}
	if err := req.Start(); err != nil {
		return err
	}

	return <-done
}
