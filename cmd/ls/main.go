// Package main prints the most recent stored snapshots per item.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/emoki/snipr/internal/config"
	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/types"
)

func main() {
	var (
		site     = flag.String("site", "", "Only list items of this site (default: every site)")
		limit    = flag.Int("limit", 1, "Snapshots per item (1-5)")
		maxItems = flag.Int("items", 50, "Maximum number of items (1-500)")
	)
	flag.Parse()

	if *limit < 1 || *limit > 5 {
		log.Fatalf("-limit must be between 1 and 5, got %d", *limit)
	}
	if *maxItems < 1 || *maxItems > 500 {
		log.Fatalf("-items must be between 1 and 500, got %d", *maxItems)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.InitGlobalLogger(logging.LevelWarn, logging.ParseLogFormat(cfg.Logging.Format))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = logging.WithLogger(ctx, logger)

	stores, err := storage.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer stores.Close()

	bids, err := stores.Bids.Recent(ctx, types.NormalizeSite(*site), *limit, *maxItems)
	if err != nil {
		log.Fatalf("Failed to load snapshots: %v", err)
	}

	printBids(bids)
}

func printBids(bids []*models.StoredBid) {
	if len(bids) == 0 {
		fmt.Println("No snapshots stored yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSITE\tLOT\tTITLE\tPRICE\tBIDS\tURL")
	for _, b := range bids {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%d\t%s\n",
			b.Timestamp.Local().Format("2006-01-02 15:04:05"),
			b.Site,
			b.LotNumber,
			truncate(b.ItemTitle, 40),
			b.Currency,
			b.CurrentPrice.StringFixed(2),
			b.TotalBids,
			b.ItemURL,
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
