package main

import (
	"context"
	"os"

	"github.com/eugenenazirov/service-common/internal/application"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	return application.New(application.WithName("service-common")).Main(ctx, args)
}
