package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tcgledger/internal"
	"tcgledger/internal/config"
	"tcgledger/internal/listener"
	"tcgledger/internal/mail"
	gmailconnector "tcgledger/internal/mail/gmail"
	imapconnector "tcgledger/internal/mail/imap"
	"tcgledger/internal/recon"
	"tcgledger/internal/storage"
	"tcgledger/internal/util"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	cmd := os.Args[1]
	switch cmd {
	case "scan":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailProvider, "imap|gmail")
		_ = fs.Parse(os.Args[2:])
		conn, err := makeConnector(cfg, *provider)
		must(err)
		controller := recon.NewController(db, conn, cfg)
		report, err := controller.Scan(context.Background())
		must(err)
		if report.Coalesced {
			fmt.Println("scan skipped (cooldown or already running)")
		}
	case "pending:list":
		controller := recon.NewController(db, nil, cfg)
		pending, err := controller.ListPending()
		must(err)
		if len(pending) == 0 {
			fmt.Println("no pending sales")
			return
		}
		for _, entry := range pending {
			printPending(entry)
		}
	case "pending:confirm":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.Int64("id", 0, "pending sale id")
		selectArg := fs.String("select", "", "lineIndex:inventoryId:costBasisCents, comma-separated")
		_ = fs.Parse(os.Args[2:])
		if *id == 0 || strings.TrimSpace(*selectArg) == "" {
			must(fmt.Errorf("--id and --select are required"))
		}
		selections, err := parseSelections(*selectArg)
		must(err)
		controller := recon.NewController(db, nil, cfg)
		result, err := controller.Confirm(*id, selections)
		must(err)
		for _, r := range result.Records {
			fmt.Printf("confirmed %s x%d sale=%s cost=%s profit=%s\n",
				r.ItemName, r.Quantity,
				util.FormatCents(r.SalePriceCents), util.FormatCents(r.CostBasisCents), util.FormatCents(r.ProfitCents))
		}
	case "pending:dismiss":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.Int64("id", 0, "pending sale id")
		_ = fs.Parse(os.Args[2:])
		if *id == 0 {
			must(fmt.Errorf("--id is required"))
		}
		controller := recon.NewController(db, nil, cfg)
		must(controller.Dismiss(*id))
		fmt.Printf("dismissed pending sale %d\n", *id)
	case "pending:dismiss-all":
		controller := recon.NewController(db, nil, cfg)
		count, err := controller.DismissAll()
		must(err)
		fmt.Printf("dismissed %d pending sales\n", count)
	case "inventory:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "json file with inventory items")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		count, err := importInventory(db, *file)
		must(err)
		fmt.Printf("imported %d inventory items\n", count)
	case "inventory:list":
		items, err := db.ListInventory()
		must(err)
		for _, item := range items {
			fmt.Printf("  #%d %s [%s] qty=%d cost=%s\n",
				item.ID, item.Name, item.Condition, item.QuantityOnHand, util.FormatCents(item.CostBasisCents))
		}
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", cfg.OutputDir, "output directory")
		_ = fs.Parse(os.Args[2:])
		path, err := recon.ExportConfirmedXLSX(db, *out)
		must(err)
		fmt.Printf("exported confirmed sales to %s\n", path)
	case "listen":
		conn, err := makeConnector(cfg, cfg.MailProvider)
		must(err)
		controller := recon.NewController(db, conn, cfg)
		l := listener.New(controller, time.Duration(cfg.ListenerIntervalSec)*time.Second)
		must(l.Run(context.Background()))
	default:
		usage()
		os.Exit(1)
	}
}

func makeConnector(cfg config.Config, provider string) (mail.Connector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmailconnector.NewConnector(cfg)
	case "imap":
		return imapconnector.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func printPending(entry internal.PendingSaleEntry) {
	sale := entry.Sale
	fmt.Printf("pending #%d order=%s total=%s detected=%s\n",
		entry.ID, sale.OrderID, util.FormatCents(sale.OrderTotalCents), sale.DetectedAt)
	for i, line := range sale.LineItems {
		fmt.Printf("  [%d] %s x%d [%s] allocated=%s\n",
			i, line.ProductName, line.Quantity, line.Condition, util.FormatCents(line.AllocatedCents))
		if len(entry.Matches) > i {
			for _, c := range entry.Matches[i] {
				marker := " "
				if c.IsExact {
					marker = "*"
				}
				fmt.Printf("      %s inventory #%d %s [%s] score=%.2f\n",
					marker, c.InventoryItemID, c.Name, c.Condition, c.Score)
			}
		}
	}
}

func parseSelections(arg string) ([]storage.ConfirmSelection, error) {
	var out []storage.ConfirmSelection
	for _, part := range strings.Split(arg, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("bad selection %q, want lineIndex:inventoryId:costBasisCents", part)
		}
		lineIndex, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("bad line index %q: %w", fields[0], err)
		}
		itemID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad inventory id %q: %w", fields[1], err)
		}
		cost, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad cost basis %q: %w", fields[2], err)
		}
		out = append(out, storage.ConfirmSelection{LineIndex: lineIndex, InventoryItemID: itemID, CostBasisCents: cost})
	}
	return out, nil
}

func importInventory(db *storage.DB, file string) (int, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}
	var items []internal.InventoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("parse %s: %w", file, err)
	}
	count := 0
	for _, item := range items {
		if _, err := db.InsertInventoryItem(item); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func usage() {
	fmt.Println("usage: tcgledger <command>")
	fmt.Println("commands:")
	fmt.Println("  scan [--provider=imap|gmail]")
	fmt.Println("  pending:list")
	fmt.Println("  pending:confirm --id=1 --select=0:3:800[,1:4:1200]")
	fmt.Println("  pending:dismiss --id=1")
	fmt.Println("  pending:dismiss-all")
	fmt.Println("  inventory:import --file=items.json")
	fmt.Println("  inventory:list")
	fmt.Println("  export:xlsx [--out=./out]")
	fmt.Println("  listen")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
