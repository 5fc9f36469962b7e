package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"creditjobs/internal/adapter/repo"
	"creditjobs/internal/domain"
	"creditjobs/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		ownerFlag  string
		kindFlag   string
		amountFlag int64
		noteFlag   string
		limitFlag  int
	)

	flag.StringVar(&ownerFlag, "owner", "", "owner ID whose balance to inspect or top up")
	flag.StringVar(&kindFlag, "kind", "purchase", "grant kind (purchase, subscription)")
	flag.Int64Var(&amountFlag, "amount", 0, "credits to grant (0 only prints the balance)")
	flag.StringVar(&noteFlag, "note", "", "free-form note stored with the grant")
	flag.IntVar(&limitFlag, "limit", 10, "number of recent transactions to print")
	flag.Parse()

	ownerID := strings.TrimSpace(ownerFlag)
	if ownerID == "" {
		exitWithError(errors.New("-owner is required"))
	}
	kind := domain.TransactionKind(strings.TrimSpace(strings.ToLower(kindFlag)))
	switch kind {
	case domain.TransactionPurchase, domain.TransactionSubscription:
	default:
		exitWithError(fmt.Errorf("unsupported kind %q", kind))
	}
	if amountFlag < 0 {
		exitWithError(errors.New("-amount must not be negative"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "credits").Logger()
	ledger := repo.NewCreditLedger(infra.NewSQLRunner(pool, logger))

	if amountFlag > 0 {
		var metadata json.RawMessage
		if note := strings.TrimSpace(noteFlag); note != "" {
			metadata, _ = json.Marshal(map[string]string{"note": note, "source": "cli"})
		}
		balance, err := ledger.Credit(ctx, ownerID, kind, amountFlag, metadata)
		if err != nil {
			exitWithError(fmt.Errorf("failed to grant credits: %w", err))
		}
		fmt.Printf("Granted %d %s credits to %s, balance now %d\n", amountFlag, kind, ownerID, balance)
	}

	balance, err := ledger.Balance(ctx, ownerID)
	if err != nil {
		exitWithError(fmt.Errorf("failed to load balance: %w", err))
	}
	fmt.Printf("balance=%d\n", balance)

	txs, err := ledger.Transactions(ctx, ownerID, limitFlag)
	if err != nil {
		exitWithError(fmt.Errorf("failed to load transactions: %w", err))
	}
	for _, tx := range txs {
		line := fmt.Sprintf("%s %-12s %+6d balance_after=%d", tx.CreatedAt.Format(time.RFC3339), tx.Kind, tx.Signed(), tx.BalanceAfter)
		if tx.JobID != "" {
			line += " job=" + tx.JobID
		}
		fmt.Println(line)
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
