package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/promptaat/promptaat/internal/pkg/billing"
	"github.com/promptaat/promptaat/internal/pkg/database"
	"github.com/promptaat/promptaat/internal/pkg/env"
)

// repair runs the subscription status normalizer: it rewrites non-canonical
// status casing and promotes stale incomplete rows whose payment confirmation
// was lost. Per-row errors are counted, not fatal; the exit code is 0
// whenever the scan itself completes.
func main() {
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	batchSize := flag.Int("batch-size", 200, "rows per scan batch")
	corroborate := flag.Bool("corroborate", false, "re-query the payment processor before repairing stale rows")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	env.SetupEnvFile()
	database.SetupDatabase()

	var gateway billing.ProcessorGateway
	if *corroborate {
		gateway = billing.NewStripeGatewayFromEnv()
	}

	n := billing.NewNormalizerFromDB(database.GetDB(), gateway)
	n.BatchSize = *batchSize
	n.DryRun = *dryRun

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := n.Run(ctx)
	if err != nil {
		log.Printf("repair aborted: %v", err)
		fmt.Println(report)
		os.Exit(1)
	}

	if *dryRun {
		fmt.Println("dry run:", report)
	} else {
		fmt.Println(report)
	}
}
