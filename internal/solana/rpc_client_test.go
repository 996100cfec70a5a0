package solana

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// rpcServer answers every request with result produced by fn.
func rpcServer(t *testing.T, method string, fn func(req rpcRequest) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}

		if req.Method != method {
			t.Errorf("expected method %s, got %s", method, req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  fn(req),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetBalance(t *testing.T) {
	server := rpcServer(t, "getBalance", func(req rpcRequest) interface{} {
		if req.Params[0] != "wallet1" {
			t.Errorf("unexpected address %v", req.Params[0])
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 1},
			"value":   uint64(1_234_567_890),
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	lamports, err := client.GetBalance(context.Background(), "wallet1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}

	if lamports != 1_234_567_890 {
		t.Errorf("expected 1234567890 lamports, got %d", lamports)
	}
}

func TestHTTPClient_GetTokenAccountsByMint(t *testing.T) {
	server := rpcServer(t, "getProgramAccounts", func(req rpcRequest) interface{} {
		if req.Params[0] != TokenProgramID {
			t.Errorf("expected token program, got %v", req.Params[0])
		}
		cfg := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "jsonParsed" {
			t.Errorf("expected jsonParsed encoding, got %v", cfg["encoding"])
		}
		filters := cfg["filters"].([]interface{})
		if len(filters) != 2 {
			t.Errorf("expected 2 filters, got %d", len(filters))
			return nil
		}
		if size := filters[0].(map[string]interface{})["dataSize"]; size != float64(165) {
			t.Errorf("expected dataSize 165, got %v", size)
		}
		memcmp := filters[1].(map[string]interface{})["memcmp"].(map[string]interface{})
		if memcmp["offset"] != float64(0) || memcmp["bytes"] != "mint1" {
			t.Errorf("unexpected memcmp filter %v", memcmp)
		}

		account := func(pubkey, owner, amount string) map[string]interface{} {
			return map[string]interface{}{
				"pubkey": pubkey,
				"account": map[string]interface{}{
					"data": map[string]interface{}{
						"program": "spl-token",
						"parsed": map[string]interface{}{
							"type": "account",
							"info": map[string]interface{}{
								"mint":  "mint1",
								"owner": owner,
								"tokenAmount": map[string]interface{}{
									"amount":   amount,
									"decimals": 6,
								},
							},
						},
					},
				},
			}
		}

		return []interface{}{
			account("acc1", "owner1", "18446744073709551615"),
			account("acc2", "owner2", "0"),
			account("acc3", "owner3", "not-a-number"),
			account("acc4", "", "10"),
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	accounts, err := client.GetTokenAccountsByMint(context.Background(), "mint1")
	if err != nil {
		t.Fatalf("GetTokenAccountsByMint: %v", err)
	}

	if len(accounts) != 2 {
		t.Fatalf("expected 2 parsed accounts, got %d", len(accounts))
	}

	if accounts[0].Owner != "owner1" || accounts[0].Pubkey != "acc1" {
		t.Errorf("unexpected first account %+v", accounts[0])
	}

	// Amounts arrive as strings; values above 2^53 must not lose precision
	if accounts[0].Amount != 18446744073709551615 {
		t.Errorf("expected max uint64 amount, got %d", accounts[0].Amount)
	}

	if accounts[1].Amount != 0 || accounts[1].Decimals != 6 {
		t.Errorf("unexpected second account %+v", accounts[1])
	}
}

func TestHTTPClient_GetLatestBlockhash(t *testing.T) {
	server := rpcServer(t, "getLatestBlockhash", func(req rpcRequest) interface{} {
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 10},
			"value": map[string]interface{}{
				"blockhash":            "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N",
				"lastValidBlockHeight": uint64(3090),
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	bh, err := client.GetLatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}

	if bh.Blockhash != "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N" {
		t.Errorf("unexpected blockhash %s", bh.Blockhash)
	}

	if bh.LastValidBlockHeight != 3090 {
		t.Errorf("expected last valid height 3090, got %d", bh.LastValidBlockHeight)
	}
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	wire := []byte{1, 2, 3, 4, 5}

	server := rpcServer(t, "sendTransaction", func(req rpcRequest) interface{} {
		if req.Params[0] != base64.StdEncoding.EncodeToString(wire) {
			t.Errorf("expected base64 wire tx, got %v", req.Params[0])
		}
		cfg := req.Params[1].(map[string]interface{})
		if cfg["encoding"] != "base64" {
			t.Errorf("expected base64 encoding, got %v", cfg["encoding"])
		}
		return "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	sig, err := client.SendTransaction(context.Background(), wire)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}

	if sig != "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW" {
		t.Errorf("unexpected signature %s", sig)
	}
}

func TestHTTPClient_GetSignatureStatuses(t *testing.T) {
	server := rpcServer(t, "getSignatureStatuses", func(req rpcRequest) interface{} {
		sigs := req.Params[0].([]interface{})
		if len(sigs) != 3 {
			t.Errorf("expected 3 signatures, got %d", len(sigs))
		}
		return map[string]interface{}{
			"context": map[string]interface{}{"slot": 82},
			"value": []interface{}{
				map[string]interface{}{
					"slot":               uint64(72),
					"confirmations":      uint64(10),
					"err":                nil,
					"confirmationStatus": "confirmed",
				},
				nil,
				map[string]interface{}{
					"slot":               uint64(48),
					"confirmations":      nil,
					"err":                map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
					"confirmationStatus": "finalized",
				},
			},
		}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	statuses, err := client.GetSignatureStatuses(context.Background(), "s1", "s2", "s3")
	if err != nil {
		t.Fatalf("GetSignatureStatuses: %v", err)
	}

	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}

	if statuses[0] == nil || !statuses[0].IsConfirmed() || statuses[0].Slot != 72 {
		t.Errorf("unexpected first status %+v", statuses[0])
	}

	if statuses[1] != nil {
		t.Errorf("expected nil for unknown signature, got %+v", statuses[1])
	}

	if statuses[2] == nil || statuses[2].Err == nil || statuses[2].Confirmations != nil {
		t.Errorf("unexpected third status %+v", statuses[2])
	}
}

func TestHTTPClient_GetSignatureStatuses_Empty(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:0")

	statuses, err := client.GetSignatureStatuses(context.Background())
	if err != nil {
		t.Fatalf("GetSignatureStatuses: %v", err)
	}
	if statuses != nil {
		t.Errorf("expected nil, got %v", statuses)
	}
}

func TestHTTPClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  int64(999),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)
	ctx := context.Background()

	slot, err := client.GetSlot(ctx)
	if err != nil {
		t.Fatalf("GetSlot: %v", err)
	}

	if slot != 999 {
		t.Errorf("expected slot 999, got %d", slot)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(time.Millisecond),
	)

	_, err := client.GetBalance(context.Background(), "wallet")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected *QueryError, got %T", err)
	}
	if qerr.Op != "getBalance" {
		t.Errorf("expected op getBalance, got %s", qerr.Op)
	}

	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestHTTPClient_RPCError(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32002,
				"message": "Transaction simulation failed",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	ctx := context.Background()

	_, err := client.SendTransaction(ctx, []byte{1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T", err)
	}

	if rpcErr.Code != -32002 {
		t.Errorf("expected code -32002, got %d", rpcErr.Code)
	}

	// RPC errors are not retried
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestHTTPClient_RateLimit(t *testing.T) {
	server := rpcServer(t, "getSlot", func(req rpcRequest) interface{} {
		return int64(1)
	})
	defer server.Close()

	// One token up front, then one every 50ms
	client := NewHTTPClient(server.URL, WithRateLimit(20, 1))
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.GetSlot(ctx); err != nil {
			t.Fatalf("GetSlot: %v", err)
		}
	}

	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("expected limiter to delay calls, took %v", elapsed)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetSlot(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
