// Package main provides the fingerprints maintenance CLI: inspect stored
// fingerprints, look one up by source URL, purge orphans and print store
// statistics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/di"
	"github.com/filerskeepers/bookwatch/internal/di/providers"
	"github.com/filerskeepers/bookwatch/internal/fingerprint"
	"github.com/filerskeepers/bookwatch/internal/store"
)

func main() {
	// Create DI container
	injector := di.NewContainer()

	// Bootstrap config, logging and the document store. This also parses
	// the command line, so flag.Args is valid afterwards.
	if err := di.BootstrapFingerprints(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}

	storeHandle := do.MustInvoke[*providers.StoreHandle](injector)
	defer storeHandle.Shutdown()

	ctx := context.Background()

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = runList(ctx, storeHandle.Store)
	case "find":
		url := flag.Arg(1)
		if url == "" {
			usage()
			os.Exit(2)
		}
		err = runFind(ctx, storeHandle.Store, url)
	case "cleanup":
		err = runCleanup(ctx, storeHandle.Store)
	case "stats":
		err = runStats(ctx, storeHandle.Store)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		storeHandle.Shutdown()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: fingerprints <command> [args]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  list          List all stored fingerprints")
	fmt.Fprintln(os.Stderr, "  find <url>    Show the fingerprint and book for a source URL")
	fmt.Fprintln(os.Stderr, "  cleanup       Delete fingerprints whose book no longer exists")
	fmt.Fprintln(os.Stderr, "  stats         Print store statistics")
}

func runList(ctx context.Context, st *store.Store) error {
	fps, err := st.ListAllFingerprints(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("=== Fingerprints (%d) ===\n\n", len(fps))
	for _, fp := range fps {
		fmt.Printf("%s  content=%s price=%s avail=%s meta=%s  %s\n",
			fp.BookID,
			short(fp.ContentHash), short(fp.PriceHash),
			short(fp.AvailabilityHash), short(fp.MetadataHash),
			fp.UpdatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func runFind(ctx context.Context, st *store.Store, url string) error {
	id := fingerprint.BookID(url)
	fmt.Printf("URL:     %s\n", url)
	fmt.Printf("Book ID: %s\n\n", id)

	fp, err := st.GetFingerprint(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrFingerprintNotFound) {
			fmt.Println("No fingerprint stored for this URL.")
		} else {
			return err
		}
	} else {
		fmt.Println("Fingerprint:")
		fmt.Printf("  Content:      %s\n", fp.ContentHash)
		fmt.Printf("  Price:        %s\n", fp.PriceHash)
		fmt.Printf("  Availability: %s\n", fp.AvailabilityHash)
		fmt.Printf("  Metadata:     %s\n", fp.MetadataHash)
		fmt.Printf("  Updated:      %s\n", fp.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	book, err := st.GetBook(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrBookNotFound) {
			fmt.Println("\nNo book stored for this URL.")
			return nil
		}
		return err
	}

	rating := "none"
	if book.Rating != nil {
		rating = fmt.Sprintf("%d/5", *book.Rating)
	}
	fmt.Println("\nBook:")
	fmt.Printf("  Name:         %s\n", book.Name)
	fmt.Printf("  Category:     %s\n", book.Category)
	fmt.Printf("  Price:        %s incl. tax / %s excl. tax\n",
		book.PriceIncludingTax.StringFixed(2), book.PriceExcludingTax.StringFixed(2))
	fmt.Printf("  Availability: %s\n", book.Availability)
	fmt.Printf("  Rating:       %s (%d reviews)\n", rating, book.NumberOfReviews)
	fmt.Printf("  Status:       %s\n", book.Status)
	return nil
}

func runCleanup(ctx context.Context, st *store.Store) error {
	fps, err := st.ListAllFingerprints(ctx)
	if err != nil {
		return err
	}

	deleted := 0
	for _, fp := range fps {
		_, err := st.GetBook(ctx, fp.BookID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrBookNotFound) {
			return err
		}
		if err := st.DeleteFingerprint(ctx, fp.BookID); err != nil {
			return fmt.Errorf("deleting fingerprint %s: %w", fp.BookID, err)
		}
		fmt.Printf("Deleted orphaned fingerprint %s\n", fp.BookID)
		deleted++
	}

	fmt.Printf("\n%d of %d fingerprints deleted\n", deleted, len(fps))
	return nil
}

func runStats(ctx context.Context, st *store.Store) error {
	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Println("=== Store Statistics ===")
	fmt.Printf("Total books:    %d\n", stats.TotalBooks)
	fmt.Printf("Active books:   %d\n", stats.ActiveBooks)
	fmt.Printf("Removed books:  %d\n", stats.RemovedBooks)
	for status, count := range stats.BooksByStatus {
		fmt.Printf("  %-13s %d\n", status+":", count)
	}
	fmt.Printf("Categories:     %d\n", stats.Categories)
	fmt.Printf("Fingerprints:   %d\n", stats.Fingerprints)
	fmt.Printf("Changes:        %d\n", stats.TotalChanges)
	fmt.Printf("Detection runs: %d\n", stats.DetectionRuns)
	fmt.Printf("Size on disk:   %.1f MB\n", float64(stats.SizeBytes)/(1024*1024))
	if stats.DiskFreeBytes > 0 {
		fmt.Printf("Disk free:      %.1f GB\n", float64(stats.DiskFreeBytes)/(1024*1024*1024))
	}

	if stats.ActiveBooks > 0 {
		coverage := float64(stats.Fingerprints) / float64(stats.ActiveBooks) * 100
		fmt.Printf("Coverage:       %.1f%% of active books fingerprinted\n", coverage)
	}
	return nil
}

// short truncates a hash for one-line listings.
func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
