package service

import (
	"context"
	"encoding/hex"
	stderrors "errors"
	"time"

	"github.com/mezonai/stakepool/interfaces"
	"github.com/mezonai/stakepool/ledger"
	"github.com/mezonai/stakepool/staking"
)

const Version = "1.0.0"

type HealthServiceImpl struct {
	ledger    *ledger.Ledger
	startedAt time.Time
}

func NewHealthService(ld *ledger.Ledger) *HealthServiceImpl {
	return &HealthServiceImpl{ledger: ld, startedAt: time.Now()}
}

func (hs *HealthServiceImpl) Check(ctx context.Context) (*interfaces.HealthStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	resp := &interfaces.HealthStatus{
		Status:    interfaces.HealthServing,
		Timestamp: now.Unix(),
		Uptime:    int64(now.Sub(hs.startedAt).Seconds()),
		Version:   Version,
	}
	if hs.ledger == nil {
		resp.Status = interfaces.HealthNotServing
		resp.ErrorMessage = "ledger is not available"
		return resp, nil
	}

	seq, hash := hs.ledger.StateHash()
	resp.Seq = seq
	resp.StateHash = hex.EncodeToString(hash[:])

	_, err := hs.ledger.Program().GetPool(hs.ledger.Reader())
	switch {
	case err == nil:
		resp.Initialized = true
	case stderrors.Is(err, staking.ErrNotInitialized):
	default:
		// Store unreadable or pool record corrupt.
		resp.Status = interfaces.HealthNotServing
		resp.ErrorMessage = err.Error()
		return resp, nil
	}
	if err := hs.ledger.Audit(); err != nil {
		resp.Status = interfaces.HealthNotServing
		resp.ErrorMessage = err.Error()
	}
	return resp, nil
}
