// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package logsource

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestClient(rt roundTripFunc) *Client {
	return New("https://api.example.com", "key", 5, 1, WithHTTPClient(&http.Client{Transport: rt}))
}

var addr = evmtypes.MustParseAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")
var topic = evmtypes.MustParseHash("0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f")

func TestFetchLogsSuccess(t *testing.T) {
	body := `{"status":"1","message":"OK","result":[
		{"address":"0xC36442b4a4522E871399CD717aBDD847Ab11FE88","topics":["0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f"],
		 "data":"0x00","blockNumber":"0x6e","blockHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "timeStamp":"1700000000","transactionHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "transactionIndex":"0","logIndex":"0","removed":false}
	]}`
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, body), nil
	})

	logs, err := client.FetchLogs(context.Background(), 100, 120, addr, topic)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, uint64(110), logs[0].BlockNumber)
}

func TestFetchLogsRetriesOnRateLimit(t *testing.T) {
	var calls int32
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return jsonResponse(429, `{"status":"0","message":"rate limit","result":[]}`), nil
		}
		return jsonResponse(200, `{"status":"1","message":"OK","result":[]}`), nil
	})

	logs, err := client.FetchLogs(context.Background(), 100, 120, addr, topic)
	require.NoError(t, err)
	require.Empty(t, logs)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchLogsWindowTooLarge(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"status":"0","message":"result window is too large","result":[]}`), nil
	})

	_, err := client.FetchLogs(context.Background(), 100, 120, addr, topic)
	require.ErrorIs(t, err, ErrWindowTooLarge)
}

func TestFetchLogsExhaustsRetries(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(500, `{}`), nil
	})

	_, err := client.FetchLogs(context.Background(), 100, 120, addr, topic)
	require.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestFetchLogsInvalidRange(t *testing.T) {
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("should not make a request")
		return nil, nil
	})
	_, err := client.FetchLogs(context.Background(), 200, 100, addr, topic)
	require.Error(t, err)
}

func TestDedupAndSortOrdering(t *testing.T) {
	body := `{"status":"1","message":"OK","result":[
		{"address":"0xC36442b4a4522E871399CD717aBDD847Ab11FE88","topics":["0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f"],
		 "data":"0x","blockNumber":"200","blockHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "timeStamp":"1","transactionHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "transactionIndex":"1","logIndex":"0","removed":false},
		{"address":"0xC36442b4a4522E871399CD717aBDD847Ab11FE88","topics":["0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f"],
		 "data":"0x","blockNumber":"100","blockHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "timeStamp":"1","transactionHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "transactionIndex":"0","logIndex":"0","removed":false},
		{"address":"0xC36442b4a4522E871399CD717aBDD847Ab11FE88","topics":["0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f"],
		 "data":"0x","blockNumber":"100","blockHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "timeStamp":"1","transactionHash":"0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f",
		 "transactionIndex":"0","logIndex":"0","removed":false}
	]}`
	client := newTestClient(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(200, body), nil
	})

	logs, err := client.FetchLogs(context.Background(), 100, 200, addr, topic)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, uint64(100), logs[0].BlockNumber)
	require.Equal(t, uint64(200), logs[1].BlockNumber)
}
