package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/vibelearn/gengate/internal/auth"
	"github.com/vibelearn/gengate/internal/ledger"
)

const (
	TestAPIKey    = "test-api-key-12345"
	TestAccountID = "00000000-0000-0000-0000-000000000001"
)

// SeedTestAccount creates a dev API key and a funded credit account so
// the gateway can be exercised locally without manual setup.
func SeedTestAccount(ctx context.Context, keys auth.Store, accounts ledger.AccountStore, balance, threshold int64) {
	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &auth.APIKey{
		AccountID: TestAccountID,
		KeyHash:   keyHash,
		Active:    true,
	}

	if err := keys.Create(ctx, apiKey); err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}

	account := &ledger.Account{
		ID:                  TestAccountID,
		Balance:             balance,
		LowBalanceThreshold: threshold,
	}
	if err := accounts.Put(ctx, account); err != nil {
		log.Printf("[Seeder] Failed to fund test account: %v", err)
		return
	}

	log.Printf("[Seeder] Test account created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] AccountID: %s", TestAccountID)
	log.Printf("[Seeder] Balance: %d credits", balance)
}
