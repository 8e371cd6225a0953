package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tapin/tapin-go/internal/config"
	"github.com/tapin/tapin-go/internal/runtime"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "path to config.toml (default ~/.tapin/config.toml)")
	flag.Parse()

	path := *configFlag
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config %s: %v\n", path, err)
		os.Exit(1)
	}
	if cfg.UserID == "" {
		fmt.Fprintln(os.Stderr, "error: user_id is not set in config")
		os.Exit(1)
	}

	app := fx.New(
		runtime.Module(runtime.Params{Config: cfg}),
	)

	app.Run()
}
