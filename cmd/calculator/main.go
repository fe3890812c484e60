package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
)

var CLI struct {
	Demo  DemoCommand  `cmd:"" default:"1" help:"Start a calculator server and run add, sub, res and clear against it."`
	Serve ServeCommand `cmd:"" help:"Serve the calculator until interrupted."`
	Call  CallCommand  `cmd:"" help:"Call one method of a running calculator."`

	Verbose bool `help:"Verbose output."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`msgpack-rpc calculator

Serves a calculator over MessagePack-RPC and calls it: add and sub store their result,
res returns it and clear forgets it.`),
	)

	log := zap.NewNop()
	if CLI.Verbose {
		var err error
		log, err = zap.NewDevelopment()
		kongCtx.FatalIfErrorf(err)
	}
	defer log.Sync() //nolint:errcheck
	kongCtx.Bind(log)

	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
