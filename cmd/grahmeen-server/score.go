package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/grahmeen/health/internal/domain/earlydetection"
	"github.com/grahmeen/health/internal/triage"
)

type scoreOptions struct {
	Strategy  string
	Rating    *float64
	RulesFile string
	// Jitter fixes the random draws so output is reproducible. Negative
	// values keep the default random source.
	Jitter float64
}

func scoreCmd() *cobra.Command {
	var (
		file   string
		rating float64
		opts   scoreOptions
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a symptom list read from a file or stdin",
		Long: `Reads a JSON assessment request, or a bare JSON array of symptoms, and
prints the detailed insight or the simple assessment as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("rating") {
				opts.Rating = &rating
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}
			return runScore(in, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON input file (default stdin)")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "Triage strategy: detailed or simple (default from the request, then detailed)")
	cmd.Flags().Float64Var(&rating, "rating", 0, "Emergency rating 0-10 for the simple strategy")
	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "YAML rules file overriding the built-in tables")
	cmd.Flags().Float64Var(&opts.Jitter, "jitter", -1, "Fixed random draw in [0,1) for reproducible output")
	return cmd
}

// readScoreInput decodes either a full request object or a bare symptom
// array.
func readScoreInput(r io.Reader) (earlydetection.SubmitRequest, error) {
	var req earlydetection.SubmitRequest

	data, err := io.ReadAll(r)
	if err != nil {
		return req, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return req, fmt.Errorf("no input")
	}
	if data[0] == '[' {
		data = append(append([]byte(`{"symptoms":`), data...), '}')
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode input: %w", err)
	}
	return req, nil
}

func runScore(in io.Reader, out io.Writer, opts scoreOptions) error {
	req, err := readScoreInput(in)
	if err != nil {
		return err
	}
	if opts.Rating != nil {
		req.EmergencyRating = opts.Rating
	}

	rules := triage.DefaultRules()
	if opts.RulesFile != "" {
		if rules, err = triage.LoadRules(opts.RulesFile); err != nil {
			return err
		}
	}
	var src triage.RandomSource
	if opts.Jitter >= 0 {
		src = triage.FixedRandom(opts.Jitter)
	}
	registry, err := triage.NewDefaultRegistry(triage.StrategyDetailed, rules, src)
	if err != nil {
		return err
	}

	svc := earlydetection.NewService(nil, registry, zerolog.Nop())
	assessment, err := svc.Evaluate(req, opts.Strategy)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if assessment.Insight != nil {
		return enc.Encode(assessment.Insight)
	}
	return enc.Encode(triage.SimpleAssessment{
		RiskLevel:           assessment.RiskLevel,
		PotentialConditions: assessment.PotentialConditions,
		Recommendations:     assessment.Recommendations,
	})
}
