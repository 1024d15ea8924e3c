package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/streetsim/streetsim_core/internal/engine"
	"github.com/streetsim/streetsim_core/internal/models"
	"github.com/streetsim/streetsim_core/internal/network"
	"github.com/streetsim/streetsim_core/internal/scenario"
)

func main() {
	var (
		networkPath  = flag.String("network", "", "Path to the network definition JSON (required)")
		scenarioPath = flag.String("scenario", "", "Path to the scenario JSON (required)")
		reportPath   = flag.String("report", "", "Write the report JSON here instead of stdout")
		tracePath    = flag.String("trace", "", "Write the full event trace here")
		seed         = flag.Int64("seed", 0, "Override the scenario seed")
		endSeconds   = flag.Float64("end", 0, "Override the scenario end time, in seconds")
	)
	flag.Parse()

	if *networkPath == "" || *scenarioPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	log.Println("Starting StreetSim run...")

	net, err := network.LoadFile(*networkPath)
	if err != nil {
		log.Fatalf("Failed to load network: %v", err)
	}
	log.Printf("✓ Network %q loaded: %d lanes, %d intersections, %d spots",
		net.Name, len(net.Lanes), len(net.Intersections), len(net.Spots))

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	if *seed != 0 {
		sc.Seed = *seed
	}
	if *endSeconds > 0 {
		sc.EndTime = models.FromSeconds(*endSeconds)
	}
	if err := scenario.Normalize(sc); err != nil {
		log.Fatalf("Invalid scenario: %v", err)
	}
	if err := scenario.CheckAgainst(sc, net); err != nil {
		log.Fatalf("Scenario does not fit network: %v", err)
	}
	log.Printf("✓ Scenario %q loaded: %d trips, %d lines, seed %d",
		sc.Name, len(sc.Trips), len(sc.Lines), sc.Seed)

	traceLines := 0
	if *tracePath == "" {
		traceLines = 10000 // keep a bounded tail when nobody asked for the full trace
	}
	eng, err := engine.New(net, sc, engine.Options{TraceLines: traceLines})
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	if err := eng.Run(context.Background()); err != nil {
		log.Fatalf("Run aborted: %v", err)
	}
	log.Printf("✓ Run finished at %s, digest %s", eng.Now(), eng.TraceDigest())

	report := eng.Report()
	log.Printf("✓ Trips: %d total, %d succeeded, %d failed",
		report.Trips, report.Succeeded, report.Failed)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode report: %v", err)
	}
	if *reportPath != "" {
		if err := os.WriteFile(*reportPath, out, 0644); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
		log.Printf("✓ Report written to %s", *reportPath)
	} else {
		fmt.Println(string(out))
	}

	if *tracePath != "" {
		f, err := os.Create(*tracePath)
		if err != nil {
			log.Fatalf("Failed to create trace file: %v", err)
		}
		defer f.Close()
		for _, line := range eng.TraceLines() {
			fmt.Fprintln(f, line)
		}
		log.Printf("✓ Trace written to %s", *tracePath)
	}
}
