package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/kitledger/internal/app"
	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/procurement"
	"github.com/odyssey-erp/kitledger/internal/shared"
)

const seedActor = "seed"

func main() {
	migrate := flag.String("migrate", "", "apply the given schema file before seeding")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, cfg.Postgres("seed"))
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if *migrate != "" {
		fmt.Println("→ Applying schema", *migrate)
		schema, err := os.ReadFile(*migrate)
		if err != nil {
			log.Fatalf("read schema: %v", err)
		}
		if _, err := pool.Exec(ctx, string(schema)); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
	}

	services := app.NewServices(app.ServiceDeps{Config: cfg, Logger: app.NewLogger(cfg, "seed"), Pool: pool})
	ctx = shared.ContextWithActor(ctx, seedActor)

	fmt.Println("→ Seeding catalog...")
	if err := seedCatalog(ctx, services.Catalog); err != nil {
		log.Fatalf("seed catalog: %v", err)
	}
	fmt.Println("→ Seeding recipes...")
	if err := seedRecipes(ctx, services.BOM); err != nil {
		log.Fatalf("seed recipes: %v", err)
	}
	fmt.Println("→ Seeding inbound orders...")
	if err := seedOrders(ctx, services.Procurement); err != nil {
		log.Fatalf("seed orders: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedCatalog(ctx context.Context, svc *catalog.Service) error {
	untracked := false
	items := []catalog.RegisterInput{
		{SKU: "RM-PCB-01", Title: "Bare controller PCB", Category: catalog.CategoryRawMaterial,
			BaseCost: decimal.RequireFromString("3.20"), SupplierName: "Shenzhen Boards", StorageLocation: "A-01",
			ReorderPoint: 50, ReorderQuantity: 200},
		{SKU: "CMP-MCU-32", Title: "32-bit microcontroller", Category: catalog.CategoryComponent,
			BaseCost: decimal.RequireFromString("1.85"), SupplierName: "Parts Direct", StorageLocation: "A-02",
			ReorderPoint: 100, ReorderQuantity: 500},
		{SKU: "CMP-CASE-S", Title: "Small enclosure", Category: catalog.CategoryComponent,
			BaseCost: decimal.RequireFromString("0.90"), SupplierName: "Moulded Co", StorageLocation: "B-04",
			ReorderPoint: 40, ReorderQuantity: 150},
		{SKU: "CMP-CABLE-USB", Title: "USB-C cable 1m", Category: catalog.CategoryComponent,
			BaseCost: decimal.RequireFromString("0.65"), SupplierName: "Parts Direct", StorageLocation: "B-07",
			ReorderPoint: 60, ReorderQuantity: 300},
		{SKU: "DOC-QUICKSTART", Title: "Printed quick start leaflet", Category: catalog.CategoryComponent,
			BaseCost: decimal.RequireFromString("0.05"), TrackInventory: &untracked},
		{SKU: "KIT-CTRL", Title: "Controller board assembly", Category: catalog.CategoryKit,
			SellPrice: decimal.RequireFromString("14.00"), StorageLocation: "C-01", ReorderPoint: 10},
		{SKU: "KIT-STARTER", Title: "Starter kit", Category: catalog.CategoryKit,
			SellPrice: decimal.RequireFromString("29.00"), StorageLocation: "C-02", ReorderPoint: 5},
	}
	for _, in := range items {
		in.Actor = seedActor
		if _, err := svc.Register(ctx, in); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				continue
			}
			return fmt.Errorf("%s: %w", in.SKU, err)
		}
	}
	return nil
}

func seedRecipes(ctx context.Context, svc *bom.Service) error {
	recipes := []struct {
		kit   string
		lines []bom.LineInput
	}{
		{"KIT-CTRL", []bom.LineInput{{ComponentSKU: "RM-PCB-01", Quantity: 1}, {ComponentSKU: "CMP-MCU-32", Quantity: 2}}},
		{"KIT-STARTER", []bom.LineInput{
			{ComponentSKU: "KIT-CTRL", Quantity: 1},
			{ComponentSKU: "CMP-CASE-S", Quantity: 1},
			{ComponentSKU: "CMP-CABLE-USB", Quantity: 1},
			{ComponentSKU: "DOC-QUICKSTART", Quantity: 1},
		}},
	}
	for _, r := range recipes {
		if _, err := svc.SetBOM(ctx, r.kit, r.lines, seedActor); err != nil {
			return fmt.Errorf("%s: %w", r.kit, err)
		}
	}
	return nil
}

func seedOrders(ctx context.Context, svc *procurement.Service) error {
	pending, err := svc.PendingOrders(ctx)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return nil
	}
	now := time.Now().UTC()
	expected := now.AddDate(0, 0, 7)
	received, err := svc.CreateOrder(ctx, procurement.CreateOrderInput{
		SupplierName: "Parts Direct",
		OrderDate:    now.AddDate(0, 0, -14),
		ShippingCost: decimal.RequireFromString("12.50"),
		Lines: []procurement.LineInput{
			{SKU: "RM-PCB-01", Quantity: 120},
			{SKU: "CMP-MCU-32", Quantity: 300},
			{SKU: "CMP-CASE-S", Quantity: 80},
			{SKU: "CMP-CABLE-USB", Quantity: 80},
		},
		Actor: seedActor,
	})
	if err != nil {
		return err
	}
	if _, err := svc.ReceiveRemaining(ctx, received.ID, now.AddDate(0, 0, -7), "initial stock", seedActor); err != nil {
		return err
	}
	_, err = svc.CreateOrder(ctx, procurement.CreateOrderInput{
		SupplierName: "Moulded Co",
		OrderDate:    now,
		ExpectedDate: &expected,
		Lines:        []procurement.LineInput{{SKU: "CMP-CASE-S", Quantity: 150}},
		Actor:        seedActor,
	})
	return err
}
