package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"sesame.dev/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = pflag.String("dsn", os.Getenv("SESAME_PG_DSN"), "PostgreSQL DSN")
		dir     = pflag.String("dir", "", "Read migrations from this directory instead of the embedded set")
		timeout = pflag.Duration("timeout", 30*time.Second, "Overall timeout")
		verbose = pflag.BoolP("verbose", "v", false, "Log each migration")
	)
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or SESAME_PG_DSN")
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|status|version]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	opts := []migrate.Option{migrate.WithVerbose(*verbose)}
	if *dir != "" {
		opts = append(opts, migrate.WithFS(os.DirFS(*dir)))
	}
	mgr, err := migrate.NewManager(db, opts...)
	if err != nil {
		log.Fatal(err)
	}

	switch pflag.Arg(0) {
	case "up":
		var applied []migrate.Result
		applied, err = mgr.Up(ctx)
		for _, r := range applied {
			fmt.Printf("applied %05d %s (%s)\n", r.Version, r.Path, r.Duration.Round(time.Millisecond))
		}
	case "down":
		var r migrate.Result
		r, err = mgr.Down(ctx)
		if err == nil {
			fmt.Printf("rolled back %05d %s\n", r.Version, r.Path)
		}
	case "status":
		var statuses []migrate.Status
		statuses, err = mgr.Status(ctx)
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied " + st.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Printf("%05d %-32s %s\n", st.Version, st.Path, state)
		}
	case "version":
		var v int64
		v, err = mgr.Version(ctx)
		if err == nil {
			fmt.Println(v)
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}
