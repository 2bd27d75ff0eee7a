package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dominant-strategies/go-merge-mining-proxy/api"
	"github.com/dominant-strategies/go-merge-mining-proxy/storage"
	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

const (
	defaultListen                = "127.0.0.1:18081"
	defaultLimitHeadersSize      = 1024
	defaultLimitBodySize         = 256 * 1024
	defaultReserveSize           = 60
	defaultTemplateCacheSize     = 256
	defaultSessionCacheSize      = 4096
	defaultTipCacheSize          = 8
	defaultTemplateExpiration    = "10m"
	defaultMaxFails              = 100
	defaultStateUpdateInterval   = "30s"
	defaultUpstreamCheckInterval = "5s"
	defaultBackendTimeout        = "10s"
	defaultChainID               = "chain"
)

type Config struct {
	Name    string `json:"name"`
	ChainId string `json:"chainId"`
	Threads int    `json:"threads"`
	Log     Log    `json:"log"`

	Proxy                 Proxy      `json:"proxy"`
	Upstream              []Upstream `json:"upstream"`
	UpstreamCheckInterval string     `json:"upstreamCheckInterval"`

	BaseNode Backend `json:"baseNode"`
	Wallet   Backend `json:"wallet"`

	Redis storage.Config `json:"redis"`
	Api   api.ApiConfig  `json:"api"`
}

type Log struct {
	File  string `json:"file"`
	Level string `json:"level"`
}

type Proxy struct {
	Listen             string `json:"listen"`
	LimitHeadersSize   int    `json:"limitHeadersSize"`
	LimitBodySize      int64  `json:"limitBodySize"`
	BehindReverseProxy bool   `json:"behindReverseProxy"`
	// DisableForwarding answers methods the proxy does not serve itself
	// with method not found instead of relaying them to the daemon.
	DisableForwarding bool `json:"disableForwarding"`

	OriginSubmission OriginSubmission `json:"originSubmission"`
	WalletAddress    string           `json:"walletAddress"`
	ReserveSize      uint64           `json:"reserveSize"`

	TemplateCacheSize  int    `json:"templateCacheSize"`
	SessionCacheSize   int    `json:"sessionCacheSize"`
	TemplateExpiration string `json:"templateExpiration"`

	HealthCheck bool  `json:"healthCheck"`
	MaxFails    int64 `json:"maxFails"`
	Metrics     bool  `json:"metrics"`

	StateUpdateInterval string `json:"stateUpdateInterval"`
}

type Upstream struct {
	Name    string `json:"name"`
	Url     string `json:"url"`
	Timeout string `json:"timeout"`
}

// Backend is a gRPC endpoint of this chain: the base node or the wallet.
type Backend struct {
	Address string `json:"address"`
	Timeout string `json:"timeout"`
}

func (b Backend) ParsedTimeout() time.Duration {
	return util.MustParseDuration(b.Timeout)
}

// OriginSubmission controls whether solved blocks are also handed to the
// foreign daemon. It decodes from a JSON bool or from one of the option
// names accepted by ParseOriginSubmission.
type OriginSubmission bool

const (
	OriginSubmissionEnabled  = "origin_submission_enabled"
	OriginSubmissionDisabled = "origin_submission_disabled"
)

func ParseOriginSubmission(s string) (OriginSubmission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case OriginSubmissionEnabled, "enabled", "true":
		return true, nil
	case OriginSubmissionDisabled, "disabled", "false":
		return false, nil
	}
	return false, fmt.Errorf("unknown origin submission option %q", s)
}

func (o *OriginSubmission) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*o = OriginSubmission(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("originSubmission must be a bool or an option name: %w", err)
	}
	v, err := ParseOriginSubmission(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

func (o OriginSubmission) String() string {
	if o {
		return OriginSubmissionEnabled
	}
	return OriginSubmissionDisabled
}

// ApplyDefaults fills every unset option with its documented default.
func (c *Config) ApplyDefaults() {
	if c.ChainId == "" {
		c.ChainId = defaultChainID
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	p := &c.Proxy
	if p.Listen == "" {
		p.Listen = defaultListen
	}
	if p.LimitHeadersSize <= 0 {
		p.LimitHeadersSize = defaultLimitHeadersSize
	}
	if p.LimitBodySize <= 0 {
		p.LimitBodySize = defaultLimitBodySize
	}
	if p.ReserveSize == 0 {
		p.ReserveSize = defaultReserveSize
	}
	if p.TemplateCacheSize <= 0 {
		p.TemplateCacheSize = defaultTemplateCacheSize
	}
	if p.SessionCacheSize <= 0 {
		p.SessionCacheSize = defaultSessionCacheSize
	}
	if p.TemplateExpiration == "" {
		p.TemplateExpiration = defaultTemplateExpiration
	}
	if p.MaxFails <= 0 {
		p.MaxFails = defaultMaxFails
	}
	if p.StateUpdateInterval == "" {
		p.StateUpdateInterval = defaultStateUpdateInterval
	}
	if c.UpstreamCheckInterval == "" {
		c.UpstreamCheckInterval = defaultUpstreamCheckInterval
	}
	for i := range c.Upstream {
		if c.Upstream[i].Name == "" {
			c.Upstream[i].Name = fmt.Sprintf("upstream-%d", i)
		}
		if c.Upstream[i].Timeout == "" {
			c.Upstream[i].Timeout = defaultBackendTimeout
		}
	}
	if c.BaseNode.Timeout == "" {
		c.BaseNode.Timeout = defaultBackendTimeout
	}
	if c.Wallet.Timeout == "" {
		c.Wallet.Timeout = defaultBackendTimeout
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("instance name is not set"))
	}
	if len(c.Upstream) == 0 {
		errs = append(errs, errors.New("no foreign daemon upstream configured"))
	}
	for i, u := range c.Upstream {
		if u.Url == "" {
			errs = append(errs, fmt.Errorf("upstream %d has no url", i))
			continue
		}
		target, err := url.Parse(u.Url)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("upstream %d: %w", i, err))
		case target.Scheme != "http" && target.Scheme != "https", target.Host == "":
			errs = append(errs, fmt.Errorf("upstream %d: url %q is not an http(s) address", i, u.Url))
		}
	}
	if c.BaseNode.Address == "" {
		errs = append(errs, errors.New("base node address is not set"))
	}
	if c.Wallet.Address == "" {
		errs = append(errs, errors.New("wallet address is not set"))
	}
	if c.Proxy.WalletAddress == "" {
		errs = append(errs, errors.New("foreign wallet address for templates is not set"))
	}
	return errors.Join(errs...)
}
