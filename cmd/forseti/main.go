// Package main provides the Forseti CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/forseti/pkg/archive"
	"github.com/orneryd/forseti/pkg/authority"
	"github.com/orneryd/forseti/pkg/config"
	"github.com/orneryd/forseti/pkg/eval"
	"github.com/orneryd/forseti/pkg/forseti"
	"github.com/orneryd/forseti/pkg/graph"
	"github.com/orneryd/forseti/pkg/rules"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forseti",
		Short: "Forseti - Deterministic Annotated-Logic Reasoning Engine",
		Long: `Forseti evaluates weighted legal reasoning rules over a graph of
bounded-confidence facts until the interpretation reaches a fixed point.

Features:
  • Confidence intervals with monotone narrowing
  • Legal burden-of-proof aggregation catalogue
  • Authority-scaled rule weights (treatment, recency, jurisdiction, court)
  • Append-only derivation provenance with "why" queries
  • Privacy-by-default export under named redaction profiles`,
	}

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Forseti v%s (%s)\n", version, commit)
		},
	})

	// Run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a rule set against a fact graph to a fixed point",
		RunE:  runRun,
	}
	runCmd.Flags().String("graph", "", "Path to the exchange-format graph JSON (required)")
	runCmd.Flags().String("rules", "", "Path to the rule set JSON (required)")
	runCmd.Flags().String("config", "", "Path to the YAML config file")
	runCmd.Flags().String("signals", "", "Path to per-rule authority signals JSON")
	runCmd.Flags().String("profile", "default", "Export profile name")
	runCmd.Flags().String("archive-dir", "", "Persist the run to a Badger archive at this directory")
	runCmd.Flags().String("now", "", "RFC3339 reference time for rule validity windows")
	runCmd.Flags().String("out", "", "Write the export document here instead of stdout")
	rootCmd.AddCommand(runCmd)

	// Eval command (golden-corpus parity harness)
	evalCmd := &cobra.Command{
		Use:   "eval [suite.json]",
		Short: "Run a golden-corpus parity suite",
		Args:  cobra.ExactArgs(1),
		RunE:  runEval,
	}
	evalCmd.Flags().String("config", "", "Path to the YAML config file (for configured profiles)")
	evalCmd.Flags().String("json-out", "", "Also write the full result as JSON")
	rootCmd.AddCommand(evalCmd)

	// Runs command (archive inspection)
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Archived run operations",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived runs",
		RunE:  runRunsList,
	}
	listCmd.Flags().String("archive-dir", "./runs", "Archive directory")
	runsCmd.AddCommand(listCmd)
	showCmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Export an archived run",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
	showCmd.Flags().String("archive-dir", "./runs", "Archive directory")
	showCmd.Flags().String("config", "", "Path to the YAML config file")
	showCmd.Flags().String("profile", "default", "Export profile name")
	runsCmd.AddCommand(showCmd)
	rootCmd.AddCommand(runsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadFromEnv()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	graphPath, _ := cmd.Flags().GetString("graph")
	rulesPath, _ := cmd.Flags().GetString("rules")
	signalsPath, _ := cmd.Flags().GetString("signals")
	profile, _ := cmd.Flags().GetString("profile")
	archiveDir, _ := cmd.Flags().GetString("archive-dir")
	nowStr, _ := cmd.Flags().GetString("now")
	outPath, _ := cmd.Flags().GetString("out")

	if graphPath == "" || rulesPath == "" {
		return fmt.Errorf("both --graph and --rules are required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	graphFile, err := os.Open(graphPath)
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer graphFile.Close()
	store, err := graph.LoadExchange(graphFile)
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}

	rulesFile, err := os.Open(rulesPath)
	if err != nil {
		return fmt.Errorf("open rules: %w", err)
	}
	defer rulesFile.Close()
	ruleSet, err := rules.LoadSpecs(rulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	// Zero means wall clock; an explicit --now pins rule validity windows
	// inside the engine so reruns are reproducible.
	var now time.Time
	if nowStr != "" {
		now, err = time.Parse(time.RFC3339, nowStr)
		if err != nil {
			return fmt.Errorf("bad --now: %w", err)
		}
	}

	var signals map[string]authority.Signals
	if signalsPath != "" {
		signals, err = loadSignals(signalsPath)
		if err != nil {
			return err
		}
	}

	var opts []forseti.Option
	if archiveDir != "" {
		opts = append(opts, forseti.WithArchiveDir(archiveDir))
	}
	f, err := forseti.Open(cfg, opts...)
	if err != nil {
		return err
	}
	defer f.Close()

	ctx, cancel := signalContext()
	defer cancel()

	run, err := f.RunAt(ctx, store, ruleSet, signals, now)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "run %s: %s after %d timesteps (%d rules evaluated, %d changes)\n",
		run.ID, run.Status, run.Stats.Timesteps, run.Stats.RulesEvaluated, run.Stats.ChangesApplied)

	doc, err := f.Export(run, profile)
	if err != nil {
		return err
	}
	if outPath != "" {
		return os.WriteFile(outPath, doc, 0o644)
	}
	fmt.Println(string(doc))
	return nil
}

func runEval(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetString("json-out")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	profiles, err := cfg.ProfileRegistry()
	if err != nil {
		return err
	}

	harness := eval.NewHarness()
	harness.SetProfiles(profiles)
	if err := harness.LoadSuite(args[0]); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := harness.Run(ctx)
	if err != nil {
		return err
	}

	reporter := eval.NewReporter(os.Stdout)
	reporter.PrintSummary(result)
	if jsonOut != "" {
		if err := reporter.SaveJSON(jsonOut, result); err != nil {
			return err
		}
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d cases failed parity", result.Failed, result.Total)
	}
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	archiveDir, _ := cmd.Flags().GetString("archive-dir")

	arch, err := openArchive(archiveDir)
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summaries, err := arch.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no archived runs")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%s  %s  %-9s  t=%d  facts=%d\n",
			s.ID, s.CreatedAt.Format(time.RFC3339), s.Status, s.Timestep, s.FactCount)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	archiveDir, _ := cmd.Flags().GetString("archive-dir")
	profile, _ := cmd.Flags().GetString("profile")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	profiles, err := cfg.ProfileRegistry()
	if err != nil {
		return err
	}

	arch, err := openArchive(archiveDir)
	if err != nil {
		return err
	}
	defer arch.Close()

	ctx, cancel := signalContext()
	defer cancel()

	rec, err := arch.LoadRun(ctx, args[0])
	if err != nil {
		return err
	}
	interp, status, err := rec.Interpretation()
	if err != nil {
		return err
	}
	doc, err := profiles.Export(interp, status, profile)
	if err != nil {
		return err
	}
	fmt.Println(string(doc))
	return nil
}

func openArchive(dir string) (archive.Archive, error) {
	return archive.NewBadgerArchive(dir)
}

// loadSignals reads a JSON map of rule ID to authority signals:
//
//	{
//	  "duty-from-precedent": {
//	    "treatment": "FOLLOWED",
//	    "age": "8760h",
//	    "source_jurisdiction": "us.ca",
//	    "target_jurisdiction": "us.ca.sup",
//	    "court": "HIGHEST"
//	  }
//	}
func loadSignals(path string) (map[string]authority.Signals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	var wire map[string]struct {
		Treatment          string `json:"treatment"`
		Age                string `json:"age"`
		SourceJurisdiction string `json:"source_jurisdiction"`
		TargetJurisdiction string `json:"target_jurisdiction"`
		Court              string `json:"court"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}
	out := make(map[string]authority.Signals, len(wire))
	for id, w := range wire {
		age, err := time.ParseDuration(w.Age)
		if err != nil {
			return nil, fmt.Errorf("signals for rule %q: bad age: %w", id, err)
		}
		out[id] = authority.Signals{
			Treatment:          authority.Treatment(w.Treatment),
			Age:                age,
			SourceJurisdiction: w.SourceJurisdiction,
			TargetJurisdiction: w.TargetJurisdiction,
			Court:              authority.CourtLevel(w.Court),
		}
	}
	return out, nil
}
