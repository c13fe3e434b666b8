// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
)

// TestMain verifies this package's tests leave no goroutines running behind
// — in particular the httptest.Server-backed fetchChunk test, whose client
// retries and timers are the one place in this package a leak could hide.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func topicLog(topic evmtypes.Hash, tokenIDTopic evmtypes.Hash, data []byte, block uint64) logsource.Log {
	return logsource.Log{
		BlockNumber:     block,
		BlockTimestamp:  1700000000,
		TransactionHash: evmtypes.MustParseHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
		Topics:          []evmtypes.Hash{topic, tokenIDTopic},
		Data:            data,
	}
}

func wordFor(n uint64) [32]byte {
	var w [32]byte
	big.NewInt(0).SetUint64(n).FillBytes(w[24:])
	return w
}

func tokenTopic(n uint64) evmtypes.Hash {
	w := wordFor(n)
	var h evmtypes.Hash
	copy(h[:], w[:])
	return h
}

func concatWords(ws ...[32]byte) []byte {
	out := make([]byte, 0, 32*len(ws))
	for _, w := range ws {
		out = append(out, w[:]...)
	}
	return out
}

func TestDecodeChunkSkipsUnknownCountsMalformed(t *testing.T) {
	unknown := evmtypes.MustParseHash("0x9999999999999999999999999999999999999999999999999999999999999999")
	known := decode.Topic0For(decode.IncreaseLiquidity)

	logs := []logsource.Log{
		topicLog(unknown, tokenTopic(1), nil, 100),                                                  // unrecognized topic, skipped
		topicLog(known, tokenTopic(2), concatWords(wordFor(1)), 100),                                // malformed: data too short
		topicLog(known, tokenTopic(3), concatWords(wordFor(500), wordFor(1000), wordFor(2000)), 100), // valid
	}

	events, errCount := decodeChunk(chain.Ethereum, logs)
	require.Len(t, events, 1)
	require.Equal(t, 1, errCount)
	require.Equal(t, big.NewInt(3), events[0].NFTTokenID)
}

func TestTouchedTokensDedups(t *testing.T) {
	events := []decode.PositionEvent{
		{NFTTokenID: big.NewInt(1)},
		{NFTTokenID: big.NewInt(2)},
		{NFTTokenID: big.NewInt(1)},
	}
	touched := touchedTokens(events)
	require.Len(t, touched, 2)
}

func TestPollIntervalConvertsMillis(t *testing.T) {
	cfg := chain.Config{PollInterval: 12000}
	require.Equal(t, 12*time.Second, pollInterval(cfg))
}

func TestSleepRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

// fakeLogJSON renders one rawResponse-shaped JSON body with a single log
// entry at the given block, for the topic identified by topic0.
func fakeLogJSON(topic0, tokenTopic string, block uint64) string {
	data := "0x" + hex.EncodeToString(concatWords(wordFor(1), wordFor(1), wordFor(1)))
	return fmt.Sprintf(`{"status":"1","message":"OK","result":[
		{"address":"0xC36442b4a4522E871399CD717aBDD847Ab11FE88","topics":["%s","%s"],
		 "data":"%s","blockNumber":"%d","blockHash":"0x1111111111111111111111111111111111111111111111111111111111111111",
		 "timeStamp":"1700000000","transactionHash":"0x1111111111111111111111111111111111111111111111111111111111111111",
		 "transactionIndex":"0","logIndex":"0","removed":false}
	]}`, topic0, tokenTopic, data, block)
}

func TestFetchChunkUnionsAndSorts(t *testing.T) {
	increaseTopic := decode.Topic0For(decode.IncreaseLiquidity).String()
	decreaseTopic := decode.Topic0For(decode.DecreaseLiquidity).String()
	collectTopic := decode.Topic0For(decode.Collect).String()
	tok1 := tokenTopic(1).String()
	tok2 := tokenTopic(2).String()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("topic0") {
		case increaseTopic:
			fmt.Fprint(w, fakeLogJSON(increaseTopic, tok1, 110))
		case decreaseTopic:
			fmt.Fprint(w, fakeLogJSON(decreaseTopic, tok2, 105))
		case collectTopic:
			fmt.Fprint(w, `{"status":"0","message":"No records found","result":[]}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	ci := &ChainIndexer{
		cfg:    chain.Config{ID: chain.Ethereum, NFPMAddress: evmtypes.MustParseAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")},
		client: logsource.New(server.URL, "", 1, 1),
	}

	logs, err := ci.fetchChunk(context.Background(), 100, 120)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, uint64(105), logs[0].BlockNumber)
	require.Equal(t, uint64(110), logs[1].BlockNumber)
}
