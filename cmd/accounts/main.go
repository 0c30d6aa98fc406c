package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"whatslog/internal/database"
	"whatslog/internal/models"
)

const usage = `Usage: accounts [-db path] <command> [flags]

Commands:
  create -username <username> [-name <display name>]
  list
  delete -id <account id>
`

func main() {
	dbPath := flag.String("db", "./whatslog.db", "Path to the database file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	db, err := database.New(ctx, models.DatabaseConfig{Path: *dbPath})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := run(ctx, db, flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}

type accountStore interface {
	CreateAccount(ctx context.Context, username, name string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
}

func run(ctx context.Context, store accountStore, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}

	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("create", flag.ContinueOnError)
		username := fs.String("username", "", "Unique login name")
		name := fs.String("name", "", "Display name")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *username == "" {
			return errors.New("-username is required")
		}
		account, err := store.CreateAccount(ctx, *username, *name)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		fmt.Fprintf(out, "Created account %s (%s)\n", account.ID, account.Username)
		return nil

	case "list":
		accounts, err := store.ListAccounts(ctx)
		if err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tINSTANCE\tSTATUS")
		for _, a := range accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Username, a.Name, a.Instance.Name(), a.Instance.Status)
		}
		return w.Flush()

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ContinueOnError)
		id := fs.String("id", "", "Account id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("-id is required")
		}
		if err := store.DeleteAccount(ctx, *id); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		fmt.Fprintf(out, "Deleted account %s\n", *id)
		return nil

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
