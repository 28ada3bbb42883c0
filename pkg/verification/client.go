// Package verification implements the remote validation service and injector clients.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/affiliatedkat/sourcify/protocol"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	checkFilesPath = "/check-files"
	injectPath     = "/inject"
)

var (
	_ protocol.ValidationService = (*ValidationClient)(nil)
	_ protocol.Injector          = (*InjectorClient)(nil)
)

type checkFilesRequest struct {
	Files map[string]string `json:"files"`
}

type checkFilesResponse struct {
	Contracts []protocol.ContractUnit `json:"contracts"`
}

type injectRequest struct {
	Addresses []string                `json:"addresses"`
	Chain     string                  `json:"chain"`
	Bytecode  string                  `json:"bytecode"`
	Contracts []protocol.ContractUnit `json:"contracts"`
}

type injectResponse struct {
	Address string               `json:"address"`
	Status  protocol.MatchStatus `json:"status"`
	Message string               `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// post sends body as JSON and decodes a 2xx response into out. The response
// Content-Type is ignored; an undecodable success body is an error.
func post(ctx context.Context, client *resty.Client, path string, body, out any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", path, err)
	}
	if resp.IsError() {
		var apiErr errorResponse
		_ = json.Unmarshal(resp.Body(), &apiErr)
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode(), apiErr.Error)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func newRestClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
}

// ValidationClient calls a remote validation service over HTTP.
type ValidationClient struct {
	client *resty.Client
	lggr   logger.Logger
}

// NewValidationClient creates a client for the service rooted at baseURL.
func NewValidationClient(baseURL string, timeout time.Duration, lggr logger.Logger) *ValidationClient {
	return &ValidationClient{
		client: newRestClient(baseURL, timeout),
		lggr:   logger.With(lggr, "component", "ValidationClient"),
	}
}

func (c *ValidationClient) CheckFiles(ctx context.Context, files map[string]string) ([]protocol.ContractUnit, error) {
	var out checkFilesResponse
	if err := post(ctx, c.client, checkFilesPath, checkFilesRequest{Files: files}, &out); err != nil {
		return nil, fmt.Errorf("validation service: %w", err)
	}
	if out.Contracts == nil {
		return nil, errors.New("validation service: response has no contracts field")
	}
	c.lggr.Debugw("Checked files", "files", len(files), "contracts", len(out.Contracts))
	return out.Contracts, nil
}

// InjectorClient calls a remote injector over HTTP.
type InjectorClient struct {
	client *resty.Client
	lggr   logger.Logger
}

// NewInjectorClient creates a client for the injector rooted at baseURL.
func NewInjectorClient(baseURL string, timeout time.Duration, lggr logger.Logger) *InjectorClient {
	return &InjectorClient{
		client: newRestClient(baseURL, timeout),
		lggr:   logger.With(lggr, "component", "InjectorClient"),
	}
}

func (c *InjectorClient) Inject(ctx context.Context, req protocol.InjectRequest) (*protocol.MatchResult, error) {
	addresses := make([]string, len(req.Addresses))
	for i, a := range req.Addresses {
		addresses[i] = a.Hex()
	}
	body := injectRequest{
		Addresses: addresses,
		Chain:     fmt.Sprintf("%d", req.ChainID),
		Bytecode:  req.Bytecode,
		Contracts: req.Contracts,
	}

	var out injectResponse
	if err := post(ctx, c.client, injectPath, body, &out); err != nil {
		return nil, fmt.Errorf("injector: %w", err)
	}

	result := &protocol.MatchResult{Status: out.Status, Message: out.Message}
	if out.Address != "" {
		result.Address = common.HexToAddress(out.Address)
	} else if len(req.Addresses) > 0 {
		result.Address = req.Addresses[0]
	}
	return result, nil
}
