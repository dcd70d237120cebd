package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/protohost/cmd/protohost/commands"
	"git.home.luguber.info/inful/protohost/internal/api"
	ferrors "git.home.luguber.info/inful/protohost/internal/foundation/errors"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	api.Version = version
	var cli commands.CLI
	global := &commands.Global{}
	parser := kong.Parse(&cli,
		kong.Bind(global),
		kong.Name("protohost"),
		kong.Description("Build GitHub repositories into static prototypes and host them."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := parser.Run(&cli); err != nil {
		os.Exit(ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).Report(err))
	}
}
