package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/iov-one/gkel"
	"github.com/tendermint/tendermint/libs/log"
)

var witnesses = []string{"wan", "wil", "wes"}

func main() {
	fl := flag.NewFlagSet("", flag.ExitOnError)
	delayFl := fl.Duration("delay", 5*time.Millisecond, "Propagation delay of the witness network.")
	redeliverFl := fl.Bool("redeliver", false, "Deliver every notification twice.")
	timeoutFl := fl.Duration("timeout", time.Minute, "Abort the simulation after this time.")
	logFl := fl.String("log", "info", "Log level: debug, info, error or none.")
	versionFl := fl.Bool("version", false, "Print version and exit.")
	fl.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage:
	%s [options]

Simulate the lifecycle of a delegated multisig group in process.

A GEDA group of two members is incepted and authorizes an agent end role.
A QVI group of three members with weighted threshold is incepted as
delegate of GEDA, then rotated after every member rotated its own key.
Both delegated events are anchored by GEDA interactions.

`, os.Args[0])
		fl.PrintDefaults()
	}
	fl.Parse(os.Args[1:])

	if *versionFl {
		fmt.Println(gkel.Version())
		return
	}
	logger, err := newLogger(*logFl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFl)
	defer cancel()
	sim := simulation{
		delay:     *delayFl,
		redeliver: *redeliverFl,
		logger:    logger,
	}
	res, err := sim.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %+v\n", err)
		os.Exit(1)
	}
	printResults(os.Stdout, res)
}

func newLogger(level string) (log.Logger, error) {
	if level == "none" {
		return log.NewNopLogger(), nil
	}
	opt, err := log.AllowLevel(level)
	if err != nil {
		return nil, err
	}
	return log.NewFilter(log.NewTMLogger(log.NewSyncWriter(os.Stderr)), opt), nil
}

func printResults(w io.Writer, res []result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tMEMBER\tNAME\tPREFIX\tSN\tDIGEST")
	for _, r := range res {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", r.step, r.member, r.conv.Name, abbrev(r.conv.Prefix), r.conv.Sequence, abbrev(string(r.conv.Digest)))
	}
	tw.Flush()
}

func abbrev(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + ".." + s[len(s)-6:]
}
