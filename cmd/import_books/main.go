package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"elibrary/config"
	"elibrary/library"
	"elibrary/logger"
)

// bookEntry is one book of the import file.
type bookEntry struct {
	ISBN   string `json:"isbn" yaml:"isbn"`
	Title  string `json:"title" yaml:"title"`
	Author string `json:"author" yaml:"author"`
	Genre  string `json:"genre" yaml:"genre"`
}

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "import_books FILE",
		Short:         "Add the books listed in a YAML or JSON file to the catalog",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			entries, err := readEntries(args[0])
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			manager, err := library.NewLibraryManager(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer manager.Close()

			s := importBooks(cmd.Context(), manager.Catalog(), entries, cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "\nImport complete!\nSuccessfully imported: %d books\nDuplicates skipped: %d\nErrors: %d\n",
				s.added, s.duplicates, s.failed)
			if s.failed > 0 {
				return fmt.Errorf("%d book(s) could not be imported", s.failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// readEntries decodes the file as JSON when it has a .json extension and as
// YAML otherwise.
func readEntries(path string) ([]bookEntry, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read books file: %w", err)
	}

	var entries []bookEntry
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &entries)
	} else {
		err = yaml.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

type summary struct {
	added, duplicates, failed int
}

func importBooks(ctx context.Context, catalog *library.Catalog, entries []bookEntry, out io.Writer) summary {
	var s summary
	for _, e := range entries {
		fmt.Fprintf(out, "Importing: %s by %s... ", e.Title, e.Author)
		book, err := catalog.AddBook(ctx, library.BookFields{ISBN: e.ISBN, Title: e.Title, Author: e.Author, Genre: e.Genre})
		switch {
		case err == nil:
			fmt.Fprintf(out, "SUCCESS (ISBN: %s)\n", book.ISBN)
			s.added++
		case errors.Is(err, library.ErrDuplicate):
			fmt.Fprintln(out, "SKIPPED - already in catalog")
			s.duplicates++
		default:
			fmt.Fprintf(out, "ERROR - %v\n", err)
			s.failed++
		}
	}
	return s
}
