package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"holyagents.arpa/app/completion"
	"holyagents.arpa/app/ledger"
	"holyagents.arpa/app/persona"
	"holyagents.arpa/app/session"
)

func newPersonasCommand(s *App) *cli.Command {
	return &cli.Command{
		Name:   "personas",
		Usage:  "List the personas and the models they use",
		Action: cmdWithApp(listPersonas, s),
	}
}

func listPersonas(ctx context.Context, cmd *cli.Command, s *App) error {
	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTITLE\tPATH\tMODEL")
	for _, p := range s.registry.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Title, p.Path, p.Model)
	}
	return w.Flush()
}

type askCommandFlags struct {
	Persona string
	Text    string
}

func newAskCommandFlags(cmd *cli.Command) *askCommandFlags {
	return &askCommandFlags{
		Persona: cmd.String("persona"),
		Text:    strings.Join(cmd.Args().Slice(), " "),
	}
}

func newAskCommand(s *App) *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Send one message to a persona and print the reply",
		ArgsUsage: "<message>",
		Action:    cmdWithApp(ask, s),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "persona",
				Aliases:  []string{"p"},
				Usage:    fmt.Sprintf("Persona to ask, one of %s", strings.Join(personaNames(), ", ")),
				Required: true,
				Action: func(ctx context.Context, cmd *cli.Command, v string) error {
					if persona.IsID(v) {
						return nil
					}
					return cli.Exit(fmt.Errorf("'persona' must be %v. Received: %v", strings.Join(personaNames(), ", "), v), 2)
				},
			},
		},
	}
}

func ask(ctx context.Context, cmd *cli.Command, s *App) error {
	f := newAskCommandFlags(cmd)
	p, ok := s.registry.Lookup(persona.ID(f.Persona))
	if !ok {
		return fmt.Errorf("unknown persona %q", f.Persona)
	}

	opts := []session.Option{session.WithTimeout(s.config.Timeout)}
	if s.ledger != nil {
		opts = append(opts, session.WithOutcomeListener(func(o session.Outcome) {
			err := s.ledger.Record(ctx, ledger.Entry{
				Persona:       o.Persona.String(),
				Outcome:       o.Kind,
				Latency:       o.Latency,
				TranscriptLen: o.TranscriptLen,
				At:            o.At,
			})
			if err != nil {
				s.log.Warn("Failed to record exchange", zap.Error(err))
			}
		}))
	}
	sess := session.New(s.logger.Named("ask"), p, s.completion, opts...)
	defer sess.Close()

	if err := sess.Submit(ctx, f.Text); err != nil {
		if errors.Is(err, session.ErrEmptyInput) {
			return cli.Exit("a message is required", 2)
		}
		return err
	}

	transcript := sess.Transcript()
	reply := transcript[len(transcript)-1]
	if reply.Role != completion.RoleAssistant {
		return errors.New("no reply received")
	}
	_, err := fmt.Fprintln(cmd.Root().Writer, reply.Content)
	return err
}

func newStatsCommand(s *App) *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Summarize recorded exchanges per persona",
		Action: cmdWithApp(printStats, s),
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "since",
				Usage: "Only count exchanges newer than this",
				Value: 24 * time.Hour,
			},
		},
	}
}

func printStats(ctx context.Context, cmd *cli.Command, s *App) error {
	if s.ledger == nil {
		return cli.Exit("the exchange ledger is disabled, set --data-dir", 1)
	}
	since := time.Now().Add(-cmd.Duration("since"))
	summaries, err := s.ledger.Summarize(ctx, since)
	if err != nil {
		return fmt.Errorf("summarize exchanges: %w", err)
	}

	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PERSONA\tTOTAL\tOK\tFAILED\tAVG LATENCY")
	for _, sum := range summaries {
		failed := 0
		for _, n := range sum.Failures {
			failed += n
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", sum.Persona, sum.Total, sum.OK, failed, sum.AvgLatency.Round(time.Millisecond))
	}
	return w.Flush()
}

func personaNames() []string {
	ids := persona.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}
