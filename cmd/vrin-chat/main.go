package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vrin-ai/vrin-chat/cmd/vrin-chat/cmds"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmds.NewRootCommand().ExecuteContext(ctx)
	stop()
	cobra.CheckErr(err)
}
