// Command modelcraft builds an atomic model into X-ray or cryo-EM data by
// cycling external model-building and refinement programs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], runPipeline)
	stop()
	os.Exit(code)
}
