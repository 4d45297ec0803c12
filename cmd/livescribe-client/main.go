// Command livescribe-client records from the microphone, streams the audio
// to a livescribe relay and prints the transcript as it comes back.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrWong99/livescribe/cmd/livescribe-client/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.Root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "livescribe-client: %v\n", err)
		stop()
		os.Exit(1)
	}
}
