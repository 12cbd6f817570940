// Command netlogdump pretty-prints a NetLog recording: the
// newline-delimited JSON file a Recorder writes via startNetLogToFile,
// one line per event. Useful for a quick human-readable pass without
// loading the file into a bigger trace viewer.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/meridian-net/netengine/internal/netlog"
)

func main() {
	var (
		path   = flag.String("file", "", "Path to a NetLog recording (required)")
		filter = flag.String("type", "", "Only print events of this type (e.g. URL_REQUEST)")
	)
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "netlogdump: -file is required")
		os.Exit(1)
	}

	if err := dump(*path, *filter); err != nil {
		fmt.Fprintf(os.Stderr, "netlogdump error: %v\n", err)
		os.Exit(1)
	}
}

func dump(path, filter string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	count := 0
	bySourceCount := map[uint64]int{}

	for scanner.Scan() {
		var ev netlog.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed line: %v\n", err)
			continue
		}
		if filter != "" && string(ev.Type) != filter {
			continue
		}
		count++
		bySourceCount[ev.SourceID]++

		params, _ := json.Marshal(ev.Params)
		fmt.Printf("[%s] src=%d type=%-22s params=%s\n",
			ev.Time.Format("15:04:05.000"), ev.SourceID, ev.Type, params)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("\n%d events across %d sources\n", count, len(bySourceCount))
	return nil
}
