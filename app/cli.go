package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"holyagents.arpa/app/config"
)

type cmdWithArgs func(ctx context.Context, cmd *cli.Command, s *App) error

// Wrap subcommands to inject the app dependency. Subcommands never reach Shutdown,
// so their resources are released here.
func cmdWithApp(action cmdWithArgs, s *App) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		err := action(ctx, cmd, s)
		return errors.Join(err, s.release())
	}
}

type setupWithArgs func(ctx context.Context, cmd *cli.Command) (context.Context, error)

func setup(setup setupWithArgs) cli.BeforeFunc {
	return func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		return setup(ctx, cmd)
	}
}

func NewCommandRoot(s *App) (*bool, *cli.Command) {
	opts := s.BuildOpts
	version := fmt.Sprintf("%s (%s)", opts.BuildVersion, opts.BuildTime)
	if opts.BuildTime == "" {
		version = opts.BuildVersion
	}
	start := new(bool)
	return start, &cli.Command{
		Name:    "holyagents",
		Usage:   "Chat with the archangels, and the one who fell, from a web terminal",
		Version: version,
		Before:  setup(s.Setup), // runs before any command to initialize the server
		Action: func(ctx context.Context, cmd *cli.Command) error {
			*start = true
			return nil
		},
		Commands: Commands(s),
		Flags:    config.Flags(),
	}
}

func Commands(s *App) []*cli.Command {
	return []*cli.Command{
		newPersonasCommand(s),
		newAskCommand(s),
		newStatsCommand(s),
	}
}
