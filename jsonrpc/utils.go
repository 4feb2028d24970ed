package jsonrpc

import (
	"net"
	"net/http"
	"strings"

	"github.com/mezonai/stakepool/logx"
)

// JSON-RPC Method name constants
const (
	// Staking methods
	MethodStakingInitialize = "staking.initialize"
	MethodStakingDeposit    = "staking.deposit"
	MethodStakingWithdraw   = "staking.withdraw"
	MethodStakingGetPool    = "staking.getpool"
	MethodStakingGetUser    = "staking.getuser"

	// Token methods
	MethodTokenGetBalance = "token.getbalance"

	// Transaction methods
	MethodTxGetStatus   = "tx.getstatus"
	MethodTxSubmitBatch = "tx.submitbatch"

	// Health methods
	MethodHealthCheck = "health.check"
)

// MaxRequestBodyBytes caps a request body; a full tx.submitbatch fits well
// inside it.
const MaxRequestBodyBytes = 1 << 20

const MaxBatchSize = 256

func extractClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		logx.Debug("SECURITY", "X-Forwarded-For:", xff)
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && net.ParseIP(host) != nil {
		return host
	}
	return "unknown"
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
