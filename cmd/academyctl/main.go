// Command academyctl is the operator CLI for the academy store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := Execute(ctx)
	stop()

	if err != nil {
		if code := shared.ErrorCode(err); code != "INTERNAL_ERROR" {
			fmt.Fprintf(os.Stderr, "error [%s]: %v\n", code, err)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
