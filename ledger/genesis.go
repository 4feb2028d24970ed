package ledger

import (
	"errors"
	"fmt"

	"github.com/mezonai/stakepool/config"
	"github.com/mezonai/stakepool/db"
	"github.com/mezonai/stakepool/derive"
	"github.com/mezonai/stakepool/logx"
	"github.com/mezonai/stakepool/types"
)

// ApplyGenesis creates the configured mints and funds token accounts. It is
// a no-op once any state has been committed, so a restarted node can call
// it unconditionally.
func (l *Ledger) ApplyGenesis(g *config.Genesis) error {
	l.commitMu.Lock()
	defer l.commitMu.Unlock()

	if l.seq > 0 {
		logx.Info("GENESIS", fmt.Sprintf("State already at seq %d, skipping genesis", l.seq))
		return nil
	}
	tokenProgram := l.program.Token
	if !tokenProgram.ID.Equals(g.TokenProgram) {
		return fmt.Errorf("genesis token program %s does not match ledger %s", g.TokenProgram, tokenProgram.ID)
	}

	session := NewSession(l.stores.Accounts)
	for _, m := range g.Mints {
		if err := tokenProgram.InitializeMint(session, m.Address, m.Authority, m.Decimals); err != nil {
			return fmt.Errorf("could not create genesis mint %s: %w", m.Address, err)
		}
	}
	for _, a := range g.Accounts {
		ata, err := tokenProgram.AssociatedAddress(a.Owner, a.Mint)
		if err != nil {
			return err
		}
		err = tokenProgram.InitializeAccount(session, ata.Key, a.Mint, a.Owner)
		if err != nil && !errors.Is(err, types.ErrAccountExisted) {
			return fmt.Errorf("could not create genesis account for %s: %w", a.Owner, err)
		}
		if a.Amount == 0 {
			continue
		}
		mint, err := tokenProgram.GetMint(session, a.Mint)
		if err != nil {
			return err
		}
		if err := tokenProgram.MintTo(session, a.Mint, ata.Key, a.Amount, derive.SignerAuthority(mint.Authority)); err != nil {
			return fmt.Errorf("could not fund genesis account for %s: %w", a.Owner, err)
		}
	}

	dirty := session.Dirty()
	hash := ComputeAccountsDeltaHash(dirty)
	err := l.txm.WithBatch(func(batch db.DatabaseBatch) error {
		if err := l.stores.Accounts.StoreInBatch(batch, dirty); err != nil {
			return err
		}
		l.stores.StateMeta.SetInBatch(batch, 1, hash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("could not commit genesis: %w", err)
	}
	l.seq, l.stateHash = 1, hash
	logx.Info("GENESIS", fmt.Sprintf("Genesis applied: %d mints, %d funded accounts", len(g.Mints), len(g.Accounts)))
	return nil
}
