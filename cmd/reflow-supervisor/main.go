// Command reflow-supervisor is the isolated OS process that runs the
// reflow phase state machine and the MPC optimizer (§4.C, §5). It is
// spawned by cmd/reflow-gateway via os/exec once per run and talks to the
// rest of the system exclusively through the shared-state bus at the path
// given on its command line — never directly to the serial link.
//
// Usage:
//
//	reflow-supervisor -cells /var/run/reflow-mpc/cells -curve /tmp/curve.json
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holla2040/reflow-mpc/internal/metrics"
	"github.com/holla2040/reflow-mpc/internal/reflow"
	"github.com/holla2040/reflow-mpc/internal/sharedstate"
	"github.com/holla2040/reflow-mpc/internal/supervisor"
)

func main() {
	cellsPath := flag.String("cells", "", "path to the shared-state bus backing file (required)")
	curvePath := flag.String("curve", "", "path to the curve JSON this run tracks (required)")
	resultPath := flag.String("result", "", "path to write the terminal Result as JSON (required)")
	flag.Parse()

	if *cellsPath == "" || *curvePath == "" || *resultPath == "" {
		log.Fatal("reflow-supervisor: -cells, -curve, and -result are required")
	}

	curveData, err := os.ReadFile(*curvePath)
	if err != nil {
		log.Fatalf("reflow-supervisor: read curve %s: %v", *curvePath, err)
	}
	var curve reflow.Curve
	if err := json.Unmarshal(curveData, &curve); err != nil {
		log.Fatalf("reflow-supervisor: decode curve %s: %v", *curvePath, err)
	}
	if err := curve.Validate(); err != nil {
		log.Fatalf("reflow-supervisor: invalid curve: %v", err)
	}

	bus, err := sharedstate.Open(*cellsPath)
	if err != nil {
		log.Fatalf("reflow-supervisor: open shared state %s: %v", *cellsPath, err)
	}
	defer bus.Close()

	// A fresh, process-local registry: this process exits after one run and
	// serves no scrape endpoint, so the metrics recorded here are not
	// exported.
	m := metrics.New(prometheus.NewRegistry())

	var result supervisor.Result
	supervisor.Run(bus, &curve, m, func(r supervisor.Result) {
		result = r
	})

	data, err := json.Marshal(result)
	if err != nil {
		log.Fatalf("reflow-supervisor: encode result: %v", err)
	}
	if err := os.WriteFile(*resultPath, data, 0o644); err != nil {
		log.Fatalf("reflow-supervisor: write result %s: %v", *resultPath, err)
	}

	log.Printf("reflow-supervisor: run finished, terminal=%s", result.Terminal)
}
