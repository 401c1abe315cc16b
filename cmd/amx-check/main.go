package main

import (
	"context"
	"fmt"
	"time"

	"github.com/amx/backend/internal/core"
	"github.com/amx/backend/internal/escrow"
	"github.com/amx/backend/internal/reputation"
	"github.com/amx/backend/internal/runtime"
	"github.com/amx/backend/internal/staking"
)

type Component struct {
	Name string
	Test func() error
}

func main() {
	fmt.Println("\033[96mAMX Settlement Core - Pre-Flight Diagnostic\033[0m")
	fmt.Println("---------------------------------------------------------")

	components := []Component{
		{"Account Store", checkAccountStore},
		{"Staking Tier Engine", checkTierEngine},
		{"Reputation Aggregator", checkReputation},
		{"Escrow State Machine", checkEscrow},
	}

	for _, c := range components {
		fmt.Printf("Checking %-25s ", c.Name+"...")
		err := c.Test()
		if err != nil {
			fmt.Println("\033[31m[FAIL]\033[0m")
			fmt.Printf("  >> Error: %v\n", err)
		} else {
			fmt.Println("\033[32m[OK]\033[0m")
		}
	}

	fmt.Println("---------------------------------------------------------")
	fmt.Println("\033[96mStatus: Core ready.\033[0m")
}

// --- Diagnostic Implementations ---

func checkAccountStore() error {
	store, err := runtime.NewAccountStoreFromEnv()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := "diag:probe"
	_, err = store.Update(ctx, key, func(r runtime.Record) (runtime.Record, error) {
		r.Bytes = []byte(`{"probe":true}`)
		return r, nil
	})
	if err != nil {
		return err
	}
	return store.Delete(ctx, key)
}

func checkTierEngine() error {
	cases := map[uint64]staking.Tier{
		0:       staking.TierNone,
		999:     staking.TierNone,
		1_000:   staking.TierBasic,
		5_000:   staking.TierVerified,
		50_000:  staking.TierPro,
		500_000: staking.TierWhale,
	}
	for amount, want := range cases {
		if got := staking.TierFor(amount); got != want {
			return fmt.Errorf("stake %d mapped to %s, want %s", amount, got, want)
		}
	}
	return nil
}

func checkReputation() error {
	now := time.Now().UTC()
	rec := reputation.NewRecord("diag-agent", now)
	next, err := reputation.ApplyComponent(rec, reputation.ComponentPaymentHistory, 80, now, reputation.BoostMultiplicativeFinal)
	if err != nil {
		return err
	}
	if next.CompositeScore <= 0 || next.CompositeScore > reputation.MaxScore {
		return fmt.Errorf("composite score %d out of range", next.CompositeScore)
	}
	return nil
}

func checkEscrow() error {
	now := time.Now().UTC()
	acct := escrow.EscrowAccount{
		ID:        "diag-escrow",
		Client:    core.AgentID("diag-client"),
		Provider:  core.AgentID("diag-provider"),
		Status:    escrow.StatusCreated,
		CreatedAt: now,
	}
	acct, err := escrow.Fund(acct, 1_000, now, 72*time.Hour)
	if err != nil {
		return err
	}
	acct, settlement, err := escrow.Approve(acct, acct.Client, now)
	if err != nil {
		return err
	}
	if settlement.ProviderPayout(acct.Provider) != 1_000 {
		return fmt.Errorf("provider payout mismatch on approval")
	}
	return nil
}
