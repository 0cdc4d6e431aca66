// Package registry manages agent records on the marketplace registry
// service: publishing an agent's identity, pricing, and metadata, and
// resolving the wallet verification keys buyers need to lock funds.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/agentpay-network/agentpay-go/client"
	"github.com/agentpay-network/agentpay-go/config"
	xerrors "github.com/agentpay-network/agentpay-go/errors"
	"github.com/agentpay-network/agentpay-go/pkg/logger"
)

// StateRegistrationConfirmed is the asset state of a fully registered agent.
const StateRegistrationConfirmed = "RegistrationConfirmed"

// ExampleOutput advertises a sample of what the agent produces.
type ExampleOutput struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
}

// Capability names the agent's advertised skill and version.
type Capability struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Author identifies who operates the agent.
type Author struct {
	Name         string `json:"name"`
	Contact      string `json:"contact,omitempty"`
	Organization string `json:"organization,omitempty"`
}

// Legal carries the agent's policy links.
type Legal struct {
	PrivacyPolicy string `json:"privacyPolicy,omitempty"`
	Terms         string `json:"terms,omitempty"`
	Other         string `json:"other,omitempty"`
}

// Agent is the registry record for one selling agent.
type Agent struct {
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	APIBaseURL      string          `json:"apiBaseUrl"`
	ExampleOutputs  []ExampleOutput `json:"exampleOutputs,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Capability      Capability      `json:"capability"`
	Author          Author          `json:"author"`
	Legal           Legal           `json:"legal,omitempty"`
	Pricing         []client.Amount `json:"agentPricing"`
	RequestsPerHour string          `json:"requestsPerHour,omitempty"`
	Network         string          `json:"network"`
	SellingWalletVK string          `json:"sellingWalletVkey,omitempty"`
}

// RegisterResponse is the data block returned when registering an agent.
// The identifier only becomes available once the on-chain registration
// confirms; poll CheckRegistrationStatus for it.
type RegisterResponse struct {
	Name            string `json:"name"`
	State           string `json:"state,omitempty"`
	AgentIdentifier string `json:"agentIdentifier,omitempty"`
}

// Asset is one registry entry owned by a wallet.
type Asset struct {
	Name            string `json:"name"`
	State           string `json:"state"`
	AgentIdentifier string `json:"agentIdentifier,omitempty"`
}

type assetList struct {
	Assets []Asset `json:"Assets"`
}

type sellingWallet struct {
	WalletVkey string `json:"walletVkey"`
}

type paymentSource struct {
	Network        string          `json:"network"`
	SellingWallets []sellingWallet `json:"SellingWallets"`
}

type paymentSourceList struct {
	PaymentSources []paymentSource `json:"PaymentSources"`
}

// Client talks to the registry service. It shares the payment client's
// transport but points at the registry base URL and key.
type Client struct {
	svc *client.Client
	log *slog.Logger
}

// New builds a registry client from the registry fields of cfg.
func New(cfg *config.Config, opts ...client.Option) (*Client, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeValidation, "config is required")
	}
	if !cfg.HasRegistry() {
		return nil, xerrors.New(xerrors.CodeValidation,
			"registry_service_url and registry_api_key must be configured")
	}
	svc, err := client.New(cfg.RegistryServiceURL, cfg.RegistryAPIKey, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{svc: svc, log: logger.Named("registry")}, nil
}

// Register publishes the agent record. Registration is asynchronous: the
// on-chain mint takes a while, so the agent identifier usually arrives later
// via CheckRegistrationStatus.
func (c *Client) Register(ctx context.Context, agent Agent) (*RegisterResponse, error) {
	if agent.Name == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "agent name is required")
	}
	if len(agent.Pricing) == 0 {
		return nil, xerrors.New(xerrors.CodeValidation, "agent pricing is required")
	}
	if agent.Network == "" {
		agent.Network = config.DefaultNetwork
	}

	var resp RegisterResponse
	if err := c.svc.Call(ctx, http.MethodPost, "/registry/", nil, agent, &resp); err != nil {
		return nil, err
	}
	if resp.Name == "" {
		return nil, xerrors.New(xerrors.CodeProtocol, "registry response missing agent name")
	}
	logger.Audit().Info("agent registration submitted",
		slog.String("name", resp.Name),
		slog.String("network", agent.Network),
	)
	return &resp, nil
}

// CheckRegistrationStatus lists the registry assets owned by a selling
// wallet. Callers scan the result for their agent's name and a confirmed
// state.
func (c *Client) CheckRegistrationStatus(ctx context.Context, walletVKey, network string) ([]Asset, error) {
	if walletVKey == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "wallet verification key is required")
	}
	query := url.Values{}
	query.Set("walletVKey", walletVKey)
	if network != "" {
		query.Set("network", network)
	}
	var resp assetList
	if err := c.svc.Call(ctx, http.MethodGet, "/registry/", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// FindConfirmed returns the confirmed asset with the given name, if present.
func FindConfirmed(assets []Asset, name string) (*Asset, bool) {
	for i := range assets {
		if assets[i].Name == name && assets[i].State == StateRegistrationConfirmed {
			return &assets[i], true
		}
	}
	return nil, false
}

// GetSellingWalletVKey resolves the selling wallet verification key for a
// network. Buyers need it to reference the seller in the escrow contract.
func (c *Client) GetSellingWalletVKey(ctx context.Context, network string) (string, error) {
	if network == "" {
		network = config.DefaultNetwork
	}
	var resp paymentSourceList
	if err := c.svc.Call(ctx, http.MethodGet, "/payment-source/", nil, nil, &resp); err != nil {
		return "", err
	}
	for _, source := range resp.PaymentSources {
		if source.Network != network {
			continue
		}
		if len(source.SellingWallets) == 0 {
			break
		}
		return source.SellingWallets[0].WalletVkey, nil
	}
	return "", xerrors.New(xerrors.CodeProtocol,
		fmt.Sprintf("no selling wallet configured for network %q", network))
}
