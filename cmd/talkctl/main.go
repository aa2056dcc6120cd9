// talkctl reads and sends messages through a running talkd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/matheus3301/talk/internal/bus"
	"github.com/matheus3301/talk/internal/config"
	"github.com/matheus3301/talk/internal/logging"
	"github.com/matheus3301/talk/internal/profile"
	"github.com/matheus3301/talk/internal/remote"
	"github.com/matheus3301/talk/internal/store"
	intsync "github.com/matheus3301/talk/internal/sync"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// env is what every command needs: the resolved profile, its local cache and
// a connection to the daemon.
type env struct {
	cfg     *config.Config
	profile string
	jsonOut bool
	logger  *zap.Logger
	cache   *store.DB
	bus     *bus.Bus
	engine  *intsync.Engine
	client  *remote.Client
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	flags := pflag.NewFlagSet("talkctl", pflag.ContinueOnError)
	flags.SetInterspersed(false)
	profileFlag := flags.StringP("profile", "p", "", "profile name (overrides config default)")
	jsonFlag := flags.Bool("json", false, "output in JSON format")
	verbose := flags.BoolP("verbose", "v", false, "log to stderr")
	flags.Usage = func() { printUsage(flags) }
	if err := flags.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	args := flags.Args()
	if len(args) == 0 {
		printUsage(flags)
		return errors.New("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(*profileFlag, *jsonFlag, *verbose)
	if err != nil {
		return err
	}
	defer e.close()

	switch args[0] {
	case "status":
		return cmdStatus(ctx, e)
	case "thread":
		return cmdThread(ctx, e, args[1:])
	case "send":
		return cmdSend(ctx, e, args[1:])
	case "retry":
		return cmdRetry(ctx, e, args[1:])
	case "watch":
		return cmdWatch(ctx, e, args[1:])
	default:
		printUsage(flags)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(flags *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: talkctl [flags] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                     Show daemon status")
	fmt.Fprintln(os.Stderr, "  thread <id> [--pages N]    Print a thread, newest pages first")
	fmt.Fprintln(os.Stderr, "  send <thread> <text...>    Send a message")
	fmt.Fprintln(os.Stderr, "  retry <unique-id>          Resend a failed message")
	fmt.Fprintln(os.Stderr, "  watch [thread]             Follow send outcomes")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "flags:")
	fmt.Fprint(os.Stderr, flags.FlagUsages())
}

func setup(profileFlag string, jsonOut, verbose bool) (*env, error) {
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	name := profile.Resolve(profileFlag, cfg)
	if err := profile.ValidateName(name); err != nil {
		return nil, err
	}
	if err := profile.EnsureDir(name); err != nil {
		return nil, err
	}

	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	logger, err := logging.NewWithOptions(profile.LogPath(name, "talkctl"), name,
		logging.Options{Level: level, Stderr: verbose})
	if err != nil {
		return nil, err
	}

	cache, _, err := store.OpenMigrated(profile.CacheDBPath(name))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	client, err := remote.New(profile.SocketPath(name))
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}

	b := bus.New()
	engine := intsync.NewEngine(cache, b, logger)
	engine.Start(context.Background())

	return &env{
		cfg:     cfg,
		profile: name,
		jsonOut: jsonOut,
		logger:  logger,
		cache:   cache,
		bus:     b,
		engine:  engine,
		client:  client,
	}, nil
}

func (e *env) close() {
	e.engine.Stop()
	_ = e.client.Close()
	_ = e.cache.Close()
	_ = e.logger.Sync()
}

func parseThreadID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid thread id %q", s)
	}
	return id, nil
}
