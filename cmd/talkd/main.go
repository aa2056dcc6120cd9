// talkd serves the message history of one profile over a Unix socket.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/matheus3301/talk/internal/config"
	"github.com/matheus3301/talk/internal/daemon"
	"github.com/matheus3301/talk/internal/profile"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
)

func main() {
	flags := pflag.NewFlagSet("talkd", pflag.ContinueOnError)
	profileFlag := flags.StringP("profile", "p", "", "profile name (overrides config default)")
	socketFlag := flags.String("socket", "", "socket path (default: the profile's talkd.sock)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	name := profile.Resolve(*profileFlag, cfg)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := profile.EnsureDir(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, SocketPath: *socketFlag}),
	)

	app.Run()
}
