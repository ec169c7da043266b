package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/treevault/internal/app"
	"github.com/dmitrijs2005/treevault/internal/buildinfo"
	"github.com/dmitrijs2005/treevault/internal/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}

	a, err := app.New(ctx, cfg, os.Stdout)
	if err != nil {
		log.Printf("%v", err)
		return
	}
	defer a.Close()

	if err := a.RunDaemon(ctx); err != nil {
		log.Printf("%v", err)
	}

}
