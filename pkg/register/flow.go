// Package register drives the three-stage provisioning handshake against the
// remote service: device registration, activation check, then signature
// exchange. All three stages run on one borrowed session so cookies set by
// the first response reach the later stages.
package register

import (
	"bytes"
	"context"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mwzzzh/devreg/pkg/config"
	"github.com/mwzzzh/devreg/pkg/cpu"
	"github.com/mwzzzh/devreg/pkg/device"
	"github.com/mwzzzh/devreg/pkg/sign"
	"github.com/mwzzzh/devreg/pkg/util"
)

// Stage names, reported on failure and used in logs.
const (
	StageRegister   = "make_did_iid"
	StageAlertCheck = "alert_check"
	StageSign       = "make_ds_sign"
)

// maxResponseBytes caps how much of a response body is read. The real
// responses are a few hundred bytes.
const maxResponseBytes = 1 << 20

// Client runs the handshake. It holds no per-task state; one Client serves
// every worker.
type Client struct {
	registerBase string
	dsignBase    string
	signer       sign.Signer
	cpu          *cpu.Pool

	// swapped out by tests for deterministic stages
	now      func() time.Time
	newReqID func() string
}

// NewClient builds a handshake client against the configured endpoints.
func NewClient(ep config.Endpoints, signer sign.Signer, cpuPool *cpu.Pool) *Client {
	return &Client{
		registerBase: ep.RegisterBase,
		dsignBase:    ep.DsignBase,
		signer:       signer,
		cpu:          cpuPool,
		now:          time.Now,
		newReqID:     uuid.NewString,
	}
}

// stageClock is captured once at stage start; ts (seconds) and the
// millisecond rticket are reused throughout that stage, and req_id is fresh
// per stage.
type stageClock struct {
	stime int64
	utime int64
	reqID string
}

func (c *Client) newStage() stageClock {
	now := c.now()
	return stageClock{
		stime: now.Unix(),
		utime: now.UnixMilli(),
		reqID: c.newReqID(),
	}
}

// Run executes the full handshake for one fabricated device. On success the
// returned record carries device_id, install_id, the guard blob and the
// keypair halves. On failure the error is a *util.StageError naming the
// stage that failed.
func (c *Client) Run(ctx context.Context, httpc *http.Client, d *device.Device) (*device.Device, error) {
	if err := c.registerDevice(ctx, httpc, d); err != nil {
		return nil, util.NewStageError(StageRegister, err)
	}
	if err := c.alertCheck(ctx, httpc, d); err != nil {
		return nil, util.NewStageError(StageAlertCheck, err)
	}
	if err := c.exchangeSign(ctx, httpc, d); err != nil {
		return nil, util.NewStageError(StageSign, err)
	}
	return d, nil
}

// signCount randomizes the per-request signature counter the way real
// clients drift it.
func signCount() int {
	return 20 + mrand.IntN(21)
}

// signInput assembles the signer input for one request. Query and body hex
// must be exactly the bytes that go on the wire.
func signInput(deviceID, model string, stime int64, query, bodyHex string) sign.Input {
	return sign.Input{
		DeviceID:  deviceID,
		Model:     model,
		Timestamp: stime,
		SignCount: signCount(),
		Query:     query,
		BodyHex:   bodyHex,
	}
}

func (c *Client) post(ctx context.Context, httpc *http.Client, url string, headers map[string]string, body []byte) ([]byte, *http.Response, error) {
	return c.do(ctx, httpc, http.MethodPost, url, headers, body)
}

func (c *Client) get(ctx context.Context, httpc *http.Client, url string, headers map[string]string) ([]byte, *http.Response, error) {
	return c.do(ctx, httpc, http.MethodGet, url, headers, nil)
}

func (c *Client) do(ctx context.Context, httpc *http.Client, method, url string, headers map[string]string, body []byte) ([]byte, *http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return raw, resp, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return raw, resp, nil
}
