package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/dominant-strategies/go-merge-mining-proxy/log"
	"github.com/dominant-strategies/go-merge-mining-proxy/storage"
)

type ApiConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
	Blocks  int64  `json:"blocks"`
}

// Backend is the read side of the storage layer the API serves from.
type Backend interface {
	GetNodeStates() ([]map[string]interface{}, error)
	GetMinedBlocks(limit int64) ([]*storage.MinedBlock, error)
}

type ApiServer struct {
	config   *ApiConfig
	backend  Backend
	settings map[string]interface{}
	started  time.Time

	statsMu sync.Mutex
}

func NewApiServer(cfg *ApiConfig, settings map[string]interface{}, backend Backend) *ApiServer {
	if cfg.Blocks <= 0 {
		cfg.Blocks = 50
	}
	return &ApiServer{
		config:   cfg,
		backend:  backend,
		settings: settings,
		started:  time.Now(),
	}
}

func (s *ApiServer) Start() {
	log.Global.WithField("listen", s.config.Listen).Info("Starting API")
	err := http.ListenAndServe(s.config.Listen, s.Router())
	if err != nil {
		log.Global.WithField("err", err).Fatal("Failed to start API")
	}
}

func (s *ApiServer) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/stats", s.StatsIndex).Methods(http.MethodGet)
	r.HandleFunc("/api/blocks", s.BlocksIndex).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusNotFound)
}

func (s *ApiServer) StatsIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	reply := map[string]interface{}{
		"now":      time.Now().UnixNano() / int64(time.Millisecond),
		"uptime":   int64(time.Since(s.started).Seconds()),
		"settings": s.settings,
	}
	nodes, err := s.backend.GetNodeStates()
	if err != nil {
		log.Global.WithField("err", err).Error("Failed to get nodes stats from backend")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	reply["nodes"] = nodes

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		log.Global.WithField("err", err).Error("Error serializing API response")
	}
}

func (s *ApiServer) BlocksIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	blocks, err := s.backend.GetMinedBlocks(s.config.Blocks)
	if err != nil {
		log.Global.WithField("err", err).Error("Failed to get mined blocks from backend")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	err = json.NewEncoder(w).Encode(map[string]interface{}{
		"blocks":      blocks,
		"blocksTotal": len(blocks),
	})
	if err != nil {
		log.Global.WithField("err", err).Error("Error serializing API response")
	}
}
