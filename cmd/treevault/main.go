package main

import (
	"bufio"
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/treevault/internal/app"
	"github.com/dmitrijs2005/treevault/internal/buildinfo"
	"github.com/dmitrijs2005/treevault/internal/cli"
	"github.com/dmitrijs2005/treevault/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stderr)

	ctx := context.Background()
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	a, err := app.New(ctx, cfg, os.Stderr)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	cli.NewShell(a, bufio.NewScanner(os.Stdin), os.Stdout).Run(ctx)

}
