// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package logsource implements the Log Source Client (C1): pulling
// filtered contract logs from an external block-explorer-style indexer API
// for one chain, address and topic at a time, with retry and backoff
// (spec.md §4.1, §6).
package logsource

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chainlog"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

// Error taxonomy, spec.md §4.1 / §7.
var (
	// ErrSourceUnavailable is returned when retries are exhausted against a
	// transport failure, 5xx, or rate-limit response.
	ErrSourceUnavailable = errors.New("logsource: source unavailable")
	// ErrSourceMalformed is returned when the response is not schema-valid.
	ErrSourceMalformed = errors.New("logsource: malformed response")
	// ErrWindowTooLarge is returned when the endpoint refuses the
	// requested block span ("result window exceeded").
	ErrWindowTooLarge = errors.New("logsource: result window exceeded")
)

// Log is the raw log record described in spec.md §3, prior to decoding.
type Log struct {
	Address          evmtypes.Address
	BlockNumber      uint64
	BlockHash        evmtypes.Hash
	TransactionHash  evmtypes.Hash
	TransactionIndex uint64
	LogIndex         uint64
	Topics           []evmtypes.Hash
	Data             []byte
	BlockTimestamp   int64
	Removed          bool
}

// Client fetches logs over HTTP from an Etherscan-style "getLogs" endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string

	maxRetries    int
	baseBackoffMS int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default *http.Client (tests inject a fake
// RoundTripper this way).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New constructs a Client for one chain's log API endpoint.
func New(endpoint, apiKey string, maxRetries int, baseBackoffMS int64, opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		endpoint:      endpoint,
		apiKey:        apiKey,
		maxRetries:    maxRetries,
		baseBackoffMS: baseBackoffMS,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// rawResponse mirrors the wire schema from spec.md §6.
type rawResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Result  rawLogs  `json:"result"`
}

// rawLogs captures the "result" field as an array of logs. A response whose
// "result" is a bare string instead of an array does not unmarshal into it,
// and fetchOnce reports such a response as ErrSourceMalformed.
type rawLogs []rawLog

type rawLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	TimeStamp        string   `json:"timeStamp"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// FetchLogs pulls logs for one topic0 in [fromBlock, toBlock] (spec.md
// §4.1: one topic per call, caller unions results). Results are returned
// sorted and unique on (blockNumber, transactionIndex, logIndex).
//
// Retries follow spec.md §4.1: exponential backoff starting at baseBackoffMS
// (default 500ms), capped at 30s, up to maxRetries attempts; a rate-limit
// response doubles the starting delay to 2s for the rest of this call.
func (c *Client) FetchLogs(ctx context.Context, fromBlock, toBlock uint64, address evmtypes.Address, topic0 evmtypes.Hash) ([]Log, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("logsource: fromBlock %d > toBlock %d", fromBlock, toBlock)
	}

	normalBackoff := newBackOff(time.Duration(c.baseBackoffMS) * time.Millisecond)
	rateLimitBackoff := newBackOff(2 * time.Second)
	bo := normalBackoff

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		logs, err := c.fetchOnce(ctx, fromBlock, toBlock, address, topic0)
		if err == nil {
			return logs, nil
		}
		if errors.Is(err, ErrWindowTooLarge) || errors.Is(err, ErrSourceMalformed) {
			return nil, err
		}
		lastErr = err
		if errors.Is(err, errRateLimited) {
			bo = rateLimitBackoff
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop || attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

// HeadBlock returns the chain's current tip height (spec.md §4.6 step 2:
// "tip = headBlock(chain) via C1"), using the same getLogs-style endpoint's
// proxy module. Retries use the same policy as FetchLogs.
func (c *Client) HeadBlock(ctx context.Context) (uint64, error) {
	bo := newBackOff(time.Duration(c.baseBackoffMS) * time.Millisecond)
	rateLimitBackoff := newBackOff(2 * time.Second)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		height, err := c.headBlockOnce(ctx)
		if err == nil {
			return height, nil
		}
		if errors.Is(err, ErrSourceMalformed) {
			return 0, err
		}
		lastErr = err
		if errors.Is(err, errRateLimited) {
			bo = rateLimitBackoff
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop || attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, lastErr)
}

type rawBlockNumberResponse struct {
	Result string `json:"result"`
}

func (c *Client) headBlockOnce(ctx context.Context) (uint64, error) {
	q := url.Values{}
	q.Set("module", "proxy")
	q.Set("action", "eth_blockNumber")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	reqURL := c.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: building request: %v", ErrSourceMalformed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == http.StatusTooManyRequests || looksRateLimited(body) {
		return 0, errRateLimited
	}
	if resp.StatusCode >= 500 {
		return 0, fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrSourceMalformed, resp.StatusCode)
	}

	var raw rawBlockNumberResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceMalformed, err)
	}
	return parseHexOrDecimal(raw.Result)
}

func newBackOff(initial time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	bo.MaxInterval = 30 * time.Second
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.1
	return bo
}

func (c *Client) fetchOnce(ctx context.Context, fromBlock, toBlock uint64, address evmtypes.Address, topic0 evmtypes.Hash) ([]Log, error) {
	log := chainlog.Root().With("component", "logsource", "from", fromBlock, "to", toBlock)

	q := url.Values{}
	q.Set("module", "logs")
	q.Set("action", "getLogs")
	q.Set("fromBlock", strconv.FormatUint(fromBlock, 10))
	q.Set("toBlock", strconv.FormatUint(toBlock, 10))
	q.Set("address", address.String())
	q.Set("topic0", topic0.String())
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	reqURL := c.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrSourceMalformed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn("transport error fetching logs", "err", err)
		return nil, err // retryable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err // retryable: truncated response
	}

	if resp.StatusCode == http.StatusTooManyRequests || looksRateLimited(body) {
		log.Warn("rate limited by log source")
		return nil, errRateLimited
	}
	if resp.StatusCode >= 500 {
		log.Warn("log source returned server error", "status", resp.StatusCode)
		return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrSourceMalformed, resp.StatusCode)
	}

	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceMalformed, err)
	}
	if isWindowTooLarge(raw.Message) {
		return nil, ErrWindowTooLarge
	}

	logs := make([]Log, 0, len(raw.Result))
	for _, r := range raw.Result {
		parsed, err := r.parse()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceMalformed, err)
		}
		logs = append(logs, parsed)
	}

	sort.Slice(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TransactionIndex != b.TransactionIndex {
			return a.TransactionIndex < b.TransactionIndex
		}
		return a.LogIndex < b.LogIndex
	})
	logs = dedup(logs)
	return logs, nil
}

var errRateLimited = errors.New("logsource: rate limited")

func looksRateLimited(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "rate limit") || strings.Contains(s, "max rate limit")
}

func isWindowTooLarge(message string) bool {
	s := strings.ToLower(message)
	return strings.Contains(s, "result window") || strings.Contains(s, "query returned more than")
}

func dedup(logs []Log) []Log {
	out := logs[:0]
	var last *Log
	for i := range logs {
		l := logs[i]
		if last != nil && last.BlockNumber == l.BlockNumber && last.TransactionIndex == l.TransactionIndex && last.LogIndex == l.LogIndex {
			continue
		}
		out = append(out, l)
		last = &out[len(out)-1]
	}
	return out
}

func (r rawLog) parse() (Log, error) {
	address, err := evmtypes.ParseAddress(r.Address)
	if err != nil {
		return Log{}, fmt.Errorf("address: %w", err)
	}
	blockHash, err := evmtypes.ParseHash(r.BlockHash)
	if err != nil {
		return Log{}, fmt.Errorf("blockHash: %w", err)
	}
	txHash, err := evmtypes.ParseHash(r.TransactionHash)
	if err != nil {
		return Log{}, fmt.Errorf("transactionHash: %w", err)
	}

	blockNumber, err := parseHexOrDecimal(r.BlockNumber)
	if err != nil {
		return Log{}, fmt.Errorf("blockNumber: %w", err)
	}
	txIndex, err := parseHexOrDecimal(r.TransactionIndex)
	if err != nil {
		return Log{}, fmt.Errorf("transactionIndex: %w", err)
	}
	logIndex, err := parseHexOrDecimal(r.LogIndex)
	if err != nil {
		return Log{}, fmt.Errorf("logIndex: %w", err)
	}
	timestamp, err := parseHexOrDecimal(r.TimeStamp)
	if err != nil {
		return Log{}, fmt.Errorf("timeStamp: %w", err)
	}

	topics := make([]evmtypes.Hash, 0, len(r.Topics))
	for _, t := range r.Topics {
		if t == "" {
			continue
		}
		h, err := evmtypes.ParseHash(t)
		if err != nil {
			return Log{}, fmt.Errorf("topic: %w", err)
		}
		topics = append(topics, h)
	}

	data, err := decodeDataHex(r.Data)
	if err != nil {
		return Log{}, fmt.Errorf("data: %w", err)
	}

	return Log{
		Address:          address,
		BlockNumber:      blockNumber,
		BlockHash:        blockHash,
		TransactionHash:  txHash,
		TransactionIndex: txIndex,
		LogIndex:         logIndex,
		Topics:           topics,
		Data:             data,
		BlockTimestamp:   int64(timestamp),
		Removed:          r.Removed,
	}, nil
}

// parseHexOrDecimal accepts either representation, per spec.md §6
// ("blockNumber and logIndex may be hex or decimal strings").
func parseHexOrDecimal(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func decodeDataHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return nil, nil
	}
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex data")
	}
	return hex.DecodeString(s)
}
