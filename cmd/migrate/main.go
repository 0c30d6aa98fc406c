package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"whatslog/internal/migrations"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "./whatslog.db", "Path to the database file")
	create := flag.Bool("create", false, "Create the database file if it does not exist")
	flag.Parse()

	if err := run(context.Background(), *dbPath, *create, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, dbPath string, create bool, out io.Writer) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) && !create {
		return fmt.Errorf("database file not found: %s (use -create to initialize it)", dbPath)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db)
	for _, version := range applied {
		fmt.Fprintf(out, "Applied migration %d\n", version)
	}
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(out, "Database schema is up to date")
		return nil
	}
	fmt.Fprintf(out, "Applied %d migration(s). You can now restart whatslog.\n", len(applied))
	return nil
}
