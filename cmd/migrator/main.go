package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sohojware/checkout-guard/internal/migrate"
	"github.com/sohojware/checkout-guard/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := strings.ToLower(os.Args[1])
	dsn := config.Load().Database.URL

	ctx, cancel := migrate.ContextWithTimeout()
	defer cancel()

	var err error

	switch cmd {
	case "up":
		err = migrate.Up(ctx, dsn)
	case "down":
		steps := 1
		if len(os.Args) > 2 {
			steps, err = strconv.Atoi(os.Args[2])
			if err != nil || steps <= 0 {
				log.Fatal("steps must be a positive integer")
			}
		}
		err = migrate.Down(ctx, dsn, steps)
	case "status":
		err = migrate.Status(ctx, dsn)
	case "version":
		var v int64
		v, err = migrate.Version(ctx, dsn)
		if err == nil {
			fmt.Printf("current version: %d\n", v)
		}
	default:
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func printUsage() {
	fmt.Println("usage: migrator <up|down|status|version> [steps]")
}
