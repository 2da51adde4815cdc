package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8080", "kafka-replay-buffer API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("krb-ctl %s\n", version)
	case "status":
		cmdStatus(*addr)
	case "partitions":
		cmdPartitions(*addr)
	case "offsets":
		cmdOffsets(*addr)
	case "oldest":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: krb-ctl oldest <partition>")
			os.Exit(1)
		}
		cmdOldest(*addr, args[1])
	case "metrics":
		cmdMetrics(*addr)
	case "clear":
		cmdClear(*addr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `krb-ctl - Kafka replay buffer management CLI

Usage:
  krb-ctl [flags] <command> [args]

Commands:
  status              Show overall status
  partitions          List buffered partitions
  offsets             Show latest buffered offset per partition
  oldest <partition>  Show oldest buffered offset for a partition
  metrics             Show the counter snapshot
  clear               Empty both buffer tiers
  version             Show version

Flags:
  -addr string   API address (default "http://localhost:8080")`)
}

func cmdStatus(addr string) {
	resp, err := http.Get(addr + "/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdPartitions(addr string) {
	resp, err := http.Get(addr + "/v1/partitions")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdOffsets(addr string) {
	resp, err := http.Get(addr + "/v1/offsets/latest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body struct {
		LatestOffsets map[string]int64 `json:"latest_offsets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARTITION\tLATEST_OFFSET")
	for p, off := range body.LatestOffsets {
		fmt.Fprintf(w, "%s\t%d\n", p, off)
	}
	w.Flush()
}

func cmdOldest(addr, partition string) {
	resp, err := http.Get(addr + "/v1/offsets/oldest/" + partition)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdMetrics(addr string) {
	resp, err := http.Get(addr + "/v1/metrics/snapshot")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func cmdClear(addr string) {
	resp, err := http.Post(addr+"/v1/admin/clear", "", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	printJSON(resp.Body)
}

func printJSON(r io.Reader) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
