package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron"

	"github.com/dominant-strategies/go-merge-mining-proxy/chain"
	"github.com/dominant-strategies/go-merge-mining-proxy/log"
	"github.com/dominant-strategies/go-merge-mining-proxy/rpc"
	"github.com/dominant-strategies/go-merge-mining-proxy/storage"
	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

// StateBackend persists what the proxy observes. storage.RedisClient is
// the production implementation.
type StateBackend interface {
	WriteNodeState(id string, height uint64, diff uint64) error
	WriteMinedBlock(block *storage.MinedBlock) error
}

type ProxyServer struct {
	config    *Config
	upstreams []*rpc.RPCClient
	upstream  int32
	baseNode  *chain.BaseNodeClient
	wallet    *chain.WalletClient
	backend   StateBackend

	templates   *templateCache
	tips        *tipCache
	failsCount  int64
	initialSync atomic.Bool

	cron *cron.Cron
}

// NewProxy wires a proxy to its backends. cfg must have defaults applied;
// backend may be nil when nothing is persisted.
func NewProxy(cfg *Config, backend StateBackend, baseNode *chain.BaseNodeClient, wallet *chain.WalletClient) (*ProxyServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	initPrometheusMetrics()

	proxy := &ProxyServer{
		config:   cfg,
		baseNode: baseNode,
		wallet:   wallet,
		backend:  backend,
		templates: newTemplateCache(
			cfg.Proxy.TemplateCacheSize,
			cfg.Proxy.SessionCacheSize,
			util.MustParseDuration(cfg.Proxy.TemplateExpiration),
		),
		tips: newTipCache(defaultTipCacheSize, util.MustParseDuration(cfg.Proxy.TemplateExpiration)),
	}
	for _, v := range cfg.Upstream {
		proxy.upstreams = append(proxy.upstreams, rpc.NewRPCClient(v.Name, v.Url, v.Timeout))
		log.Global.WithFields(log.Fields{
			"name": v.Name,
			"url":  v.Url,
		}).Info("Upstream")
	}
	log.Global.WithFields(log.Fields{
		"default":          proxy.rpc().Name,
		"originSubmission": cfg.Proxy.OriginSubmission.String(),
	}).Info("Default upstream")
	return proxy, nil
}

// Start runs the background jobs and serves until the listener fails.
func (s *ProxyServer) Start() error {
	s.StartJobs()
	log.Global.WithField("listen", s.config.Proxy.Listen).Info("Starting proxy")
	srv := &http.Server{
		Addr:           s.config.Proxy.Listen,
		Handler:        s.Router(),
		MaxHeaderBytes: s.config.Proxy.LimitHeadersSize,
	}
	return srv.ListenAndServe()
}

func (s *ProxyServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/json_rpc", s.handleJSONRPC).Methods(http.MethodPost)
	r.HandleFunc("/get_height", s.handleGetHeight).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/getheight", s.handleGetHeight).Methods(http.MethodGet, http.MethodPost)
	if s.config.Proxy.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.PathPrefix("/").Handler(s.reverseProxy())
	return r
}

// StartJobs schedules upstream health checks and, with a backend, node
// state writes.
func (s *ProxyServer) StartJobs() {
	s.cron = cron.New()
	checkIntv := util.MustParseDuration(s.config.UpstreamCheckInterval)
	s.cron.AddFunc(fmt.Sprintf("@every %v", checkIntv), func() {
		s.checkUpstreams()
		s.checkBackends(context.Background())
	})
	log.Global.WithField("interval", checkIntv).Info("Set upstream check interval")

	if s.backend != nil {
		stateIntv := util.MustParseDuration(s.config.Proxy.StateUpdateInterval)
		s.cron.AddFunc(fmt.Sprintf("@every %v", stateIntv), func() {
			s.writeNodeState(context.Background())
		})
		log.Global.WithField("interval", stateIntv).Info("Set state update interval")
	}
	s.cron.Start()
}

func (s *ProxyServer) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *ProxyServer) rpc() *rpc.RPCClient {
	i := atomic.LoadInt32(&s.upstream)
	return s.upstreams[i]
}

// checkUpstreams switches to the first healthy daemon.
func (s *ProxyServer) checkUpstreams() {
	candidate := int32(0)
	backup := false

	for i, v := range s.upstreams {
		if v.Check(context.Background()) && !backup {
			candidate = int32(i)
			backup = true
		}
	}

	if atomic.LoadInt32(&s.upstream) != candidate {
		log.Global.WithField("upstream", s.upstreams[candidate].Name).Warn("Switching upstream")
		atomic.StoreInt32(&s.upstream, candidate)
	}
}

// checkBackends pings the base node and wallet and keeps the fail counter.
func (s *ProxyServer) checkBackends(ctx context.Context) bool {
	ok := true
	tip, err := s.baseNode.GetTipInfo(ctx)
	if err != nil {
		log.Global.WithField("err", err).Warn("Base node health check failed")
		ok = false
	} else {
		s.setInitialSync(tip.InitialSyncAchieved)
	}
	if _, err := s.wallet.Identify(ctx); err != nil {
		log.Global.WithField("err", err).Warn("Wallet health check failed")
		ok = false
	}
	if ok {
		s.markOk()
	} else {
		s.markSick()
	}
	return ok
}

func (s *ProxyServer) writeNodeState(ctx context.Context) {
	tip, err := s.baseNode.GetTipHeader(ctx)
	if err != nil || tip.Header == nil {
		log.Global.WithField("err", err).Error("Error while retrieving tip header from base node")
		s.markSick()
		return
	}
	err = s.backend.WriteNodeState(s.config.Name, tip.Header.Height, tip.Difficulty)
	if err != nil {
		log.Global.WithField("err", err).Error("Failed to write node state to backend")
		s.markSick()
		return
	}
	s.markOk()
}

func (s *ProxyServer) setInitialSync(v bool) {
	if s.initialSync.Swap(v) != v {
		log.Global.WithField("initialSync", v).Info("Base node initial sync status changed")
	}
}

func (s *ProxyServer) reverseProxy() http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// Validate rejects unparseable upstream urls at startup.
			target, err := url.Parse(s.rpc().Url)
			if err != nil {
				log.Global.WithField("err", err).Error("Bad upstream url")
				return
			}
			pr.SetURL(target)
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Global.WithFields(log.Fields{
				"path": r.URL.Path,
				"err":  err,
			}).Warn("Forwarding to upstream failed")
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"status": statusFailed,
				"error":  (&backendError{backend: "foreign daemon", err: err}).Error(),
			})
		},
	}
}

func (s *ProxyServer) remoteAddr(r *http.Request) string {
	if s.config.Proxy.BehindReverseProxy {
		ip := r.Header.Get("X-Forwarded-For")
		if len(ip) > 0 {
			return strings.TrimSpace(strings.Split(ip, ",")[0])
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *ProxyServer) markSick() {
	atomic.AddInt64(&s.failsCount, 1)
}

func (s *ProxyServer) isSick() bool {
	x := atomic.LoadInt64(&s.failsCount)
	if s.config.Proxy.HealthCheck && x >= s.config.Proxy.MaxFails {
		return true
	}
	return false
}

func (s *ProxyServer) markOk() {
	atomic.StoreInt64(&s.failsCount, 0)
}
