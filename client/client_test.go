package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brojonat/nftvault/service/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	assert.NoError(t, NewClient(server.URL+"/", nil, nil).Health(context.Background()))
}

func TestSyncNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/api/v1/network", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "solana-devnet", body["name"])

		json.NewEncoder(w).Encode(map[string]interface{}{
			"network":    "solana-devnet",
			"ready":      true,
			"supported":  true,
			"generation": 2,
		})
	}))
	defer server.Close()

	state, err := NewClient(server.URL, nil, nil).SyncNetwork(context.Background(), "solana-devnet", "")
	require.NoError(t, err)
	assert.True(t, state.Ready)
	assert.Equal(t, uint64(2), state.Generation)
}

func TestBalances_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"mintA", "mintB"}, r.URL.Query()["mint"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet": "w",
			"balances": []map[string]interface{}{
				{"amount": 1500000, "decimals": 6, "display": "1.5"},
			},
		})
	}))
	defer server.Close()

	balances, err := NewClient(server.URL, nil, nil).Balances(context.Background(), "mintA", "mintB")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "1.5", balances[0].Display)
}

func TestFeePreview(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/fee-preview", r.URL.Path)
		assert.Equal(t, "1000000", r.URL.Query().Get("amount"))
		assert.Equal(t, "Long", r.URL.Query().Get("tier"))
		json.NewEncoder(w).Encode(map[string]interface{}{"tier": "Long", "fee": "0.002", "lock_days": 180})
	}))
	defer server.Close()

	preview, err := NewClient(server.URL, nil, nil).FeePreview(context.Background(), 1_000_000, "Long")
	require.NoError(t, err)
	assert.Equal(t, "0.002", preview.Fee)
	assert.Equal(t, 180, preview.LockDays)
}

func TestDeposit_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/deposit", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.EqualValues(t, 42, body["amount"])
		assert.NotContains(t, body, "nft")

		json.NewEncoder(w).Encode(map[string]interface{}{
			"signature": "5sig",
			"state":     map[string]string{"status": "Success"},
		})
	}))
	defer server.Close()

	res, err := NewClient(server.URL, nil, nil).Deposit(context.Background(), OperationRequest{Amount: 42})
	require.NoError(t, err)
	assert.Equal(t, "5sig", res.Signature)
	assert.Equal(t, txn.StatusSuccess, res.State.Status)
}

func TestWithdraw_OperationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "Insufficient shares. Available: 1000, Requested: 1500",
			"kind":  "InsufficientShares",
			"state": map[string]string{"status": "Failed"},
		})
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Withdraw(context.Background(), OperationRequest{Amount: 1500})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, txn.KindInsufficientShares, apiErr.Kind)
	require.NotNil(t, apiErr.State)
	assert.Equal(t, txn.StatusFailed, apiErr.State.Status)
	assert.Contains(t, err.Error(), "Available: 1000")
}

func TestParseErrorResponse_PlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, nil, nil).Vault(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestPosition_PathEscape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/positions/abc", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"share_amount": 7})
	}))
	defer server.Close()

	pos, err := NewClient(server.URL, nil, nil).Position(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), pos.ShareAmount)
}

func TestStreamTx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: connected\ndata: {\"wallet\":\"w\"}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		for _, status := range []string{"Building", "Signing", "Success"} {
			fmt.Fprintf(w, "event: state\ndata: {\"status\":%q,\"message\":\"m\"}\n\n", status)
		}
	}))
	defer server.Close()

	var got []txn.Status
	err := NewClient(server.URL, nil, nil).StreamTx(context.Background(), func(st txn.State) error {
		got = append(got, st.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []txn.Status{txn.StatusBuilding, txn.StatusSigning, txn.StatusSuccess}, got)
}

func TestStreamTx_HandlerStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: state\ndata: {\"status\":\"Success\"}\n\n")
		fmt.Fprint(w, "event: state\ndata: {\"status\":\"Idle\"}\n\n")
	}))
	defer server.Close()

	done := errors.New("done")
	calls := 0
	err := NewClient(server.URL, nil, nil).StreamTx(context.Background(), func(st txn.State) error {
		calls++
		return done
	})
	assert.ErrorIs(t, err, done)
	assert.Equal(t, 1, calls)
}
