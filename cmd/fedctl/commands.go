package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/danmuck/fedlink/internal/benchmark"
	"github.com/danmuck/fedlink/internal/observability"
	"github.com/danmuck/fedlink/internal/peer"
	"github.com/danmuck/fedlink/internal/protocol/session"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	cfg        appConfig
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "fedctl",
		Short:         "Drive a federated-learning peer over the weight transfer protocol",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadAppConfig(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a fedctl TOML config")

	root.AddCommand(
		a.getCommand(),
		a.setCommand(),
		a.classifyCommand(),
		a.trainCommand(),
		a.benchCommand(),
		a.measureCommand(),
	)
	return root
}

// withSession opens a session over the configured transport, runs fn, and
// closes it.
func (a *app) withSession(ctx context.Context, fn func(context.Context, *session.Session) error) (err error) {
	shutdown, err := observability.SetupTracing(ctx, a.cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	dev, err := peer.New(a.cfg.peerConfig())
	if err != nil {
		return fmt.Errorf("%w: sim peer: %w", session.ErrTransportUnavailable, err)
	}
	s, err := session.New(dev, a.cfg.Session)
	if err != nil {
		return err
	}
	if err := s.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(context.Background()); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, s)
}

func (a *app) getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Download the peer's weights and print them per layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				weights, err := s.ReceiveWeights(ctx)
				if err != nil {
					return err
				}
				return printWeights(cmd.OutOrStdout(), s, weights)
			})
		},
	}
}

func (a *app) setCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Upload random normal weights to the peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				seed := a.cfg.Benchmark.Seed
				if seed == 0 {
					seed = rand.Uint64()
				}
				rng := rand.New(rand.NewPCG(seed, seed))
				weights := benchmark.NormalWeights(rng, s.TotalWeights(), a.cfg.Benchmark.WeightStdDev)
				elapsed, err := s.SendWeights(ctx, weights)
				if err != nil {
					return err
				}
				bits := len(weights) * benchmark.BitsPerFloat
				fmt.Fprintf(cmd.OutOrStdout(), "sent %d weights in %.3fs (%.2f kbit/s)\n",
					len(weights), elapsed.Seconds(), benchmark.Rate(bits, elapsed))
				return nil
			})
		},
	}
}

func (a *app) classifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Run one on-device classification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				pred, err := s.Classify(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "class: %s\n%s\n", pred.Class(), pred)
				return nil
			})
		},
	}
}

func (a *app) trainCommand() *cobra.Command {
	var raw int
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run one on-device training step for a label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := session.ParseLabel(raw)
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if err := s.Train(ctx, label); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trained label %d (%s)\n", label, label)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&raw, "label", "l", -1, labelUsage())
	_ = cmd.MarkFlagRequired("label")
	return cmd
}

func (a *app) benchCommand() *cobra.Command {
	bench := &cobra.Command{
		Use:   "bench",
		Short: "Start a peer-side benchmark loop",
	}

	infer := &cobra.Command{
		Use:   "infer",
		Short: "Run the inference benchmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if err := s.InferenceBenchmark(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "inference benchmark complete; results are reported by the peer")
				return nil
			})
		},
	}

	var raw int
	train := &cobra.Command{
		Use:   "train",
		Short: "Run the training benchmark for a label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			label, err := session.ParseLabel(raw)
			if err != nil {
				return err
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				if err := s.TrainingBenchmark(ctx, label); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "training benchmark complete for label %d (%s); results are reported by the peer\n", label, label)
				return nil
			})
		},
	}
	train.Flags().IntVarP(&raw, "label", "l", -1, labelUsage())
	_ = train.MarkFlagRequired("label")

	bench.AddCommand(infer, train)
	return bench
}

func (a *app) measureCommand() *cobra.Command {
	var trials int
	cmd := &cobra.Command{
		Use:       "measure get|set|both",
		Short:     "Time repeated weight transfers and print statistics",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"get", "set", "both"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := args[0]
			if mode != "get" && mode != "set" && mode != "both" {
				return fmt.Errorf("unknown measure mode %q (want get, set or both)", mode)
			}
			cfg := a.cfg.Benchmark
			if cmd.Flags().Changed("trials") {
				cfg.Trials = trials
			}
			return a.withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
				timer, err := benchmark.New(s, cfg)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch mode {
				case "get":
					st, err := timer.MeasureGet(ctx)
					fmt.Fprintln(out, st)
					return err
				case "set":
					st, err := timer.MeasureSet(ctx)
					fmt.Fprintln(out, st)
					return err
				default:
					get, set, err := timer.MeasureBoth(ctx)
					fmt.Fprintln(out, get)
					fmt.Fprintln(out, set)
					printSummary(out, timer.Summary())
					return err
				}
			})
		},
	}
	cmd.Flags().IntVarP(&trials, "trials", "n", 0, "number of trials per operation")
	return cmd
}

func printWeights(w io.Writer, s *session.Session, weights []float32) error {
	matrices, err := s.Layout().Split(weights)
	if err != nil {
		return err
	}
	shapes := s.Layout().Shapes()
	for i, m := range matrices {
		fmt.Fprintf(w, "layer %d (%d inputs -> %d outputs)\n", i+1, shapes[i].Inputs, shapes[i].Outputs)
		for _, row := range m {
			cells := make([]string, len(row))
			for j, v := range row {
				cells[j] = fmt.Sprintf("%8.4f", v)
			}
			fmt.Fprintln(w, strings.Join(cells, " "))
		}
	}
	return nil
}

func printSummary(w io.Writer, summary map[string]benchmark.Summary) {
	for _, op := range []string{benchmark.OpGet, benchmark.OpSet} {
		s, ok := summary[op]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "summary %s count=%d avg=%.3fs min=%.3fs max=%.3fs\n",
			op, s.Count, s.AvgTime.Seconds(), s.MinTime.Seconds(), s.MaxTime.Seconds())
	}
}

func labelUsage() string {
	parts := make([]string, len(session.Labels))
	for i, l := range session.Labels {
		parts[i] = fmt.Sprintf("%d=%s", l, l)
	}
	return "training label (" + strings.Join(parts, ", ") + ")"
}
