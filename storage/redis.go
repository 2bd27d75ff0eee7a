package storage

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/redis.v3"

	"github.com/dominant-strategies/go-merge-mining-proxy/util"
)

type Config struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	Password string `json:"password" structs:"-"`
	Database int64  `json:"database"`
	PoolSize int    `json:"poolSize"`
}

type RedisClient struct {
	client *redis.Client
	prefix string
}

// MinedBlock is a block this proxy got accepted by the base node.
type MinedBlock struct {
	Height          uint64 `json:"height"`
	Hash            string `json:"hash"`
	ForeignHeight   uint64 `json:"foreignHeight"`
	ForeignAccepted bool   `json:"foreignAccepted"`
	Timestamp       int64  `json:"timestamp"`
}

func (b *MinedBlock) key() string {
	return join(b.Height, b.Hash, b.ForeignHeight, b.ForeignAccepted, b.Timestamp)
}

func NewRedisClient(cfg *Config, prefix string) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Endpoint,
		Password: cfg.Password,
		DB:       cfg.Database,
		PoolSize: cfg.PoolSize,
	})
	return &RedisClient{client: client, prefix: prefix}
}

func (r *RedisClient) Client() *redis.Client {
	return r.client
}

func (r *RedisClient) Check() (string, error) {
	return r.client.Ping().Result()
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

// WriteNodeState records the base node tip seen by this proxy instance.
func (r *RedisClient) WriteNodeState(id string, height uint64, diff uint64) error {
	tx := r.client.Multi()
	defer tx.Close()

	now := util.MakeTimestamp() / 1000

	_, err := tx.Exec(func() error {
		tx.HSet(r.formatKey("nodes"), join(id, "name"), id)
		tx.HSet(r.formatKey("nodes"), join(id, "height"), strconv.FormatUint(height, 10))
		tx.HSet(r.formatKey("nodes"), join(id, "difficulty"), strconv.FormatUint(diff, 10))
		tx.HSet(r.formatKey("nodes"), join(id, "lastBeat"), strconv.FormatInt(now, 10))
		return nil
	})
	return err
}

func (r *RedisClient) GetNodeStates() ([]map[string]interface{}, error) {
	cmd := r.client.HGetAllMap(r.formatKey("nodes"))
	if cmd.Err() != nil {
		return nil, cmd.Err()
	}
	return convertNodeStates(cmd.Val()), nil
}

func convertNodeStates(raw map[string]string) []map[string]interface{} {
	m := make(map[string]map[string]interface{})
	for key, value := range raw {
		parts := strings.SplitN(key, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if _, ok := m[parts[0]]; !ok {
			m[parts[0]] = make(map[string]interface{})
		}
		m[parts[0]][parts[1]] = value
	}
	result := make([]map[string]interface{}, 0, len(m))
	for _, v := range m {
		result = append(result, v)
	}
	return result
}

func (r *RedisClient) WriteMinedBlock(block *MinedBlock) error {
	cmd := r.client.ZAdd(r.formatKey("blocks", "mined"), redis.Z{Score: float64(block.Height), Member: block.key()})
	return cmd.Err()
}

// GetMinedBlocks returns up to limit mined blocks, highest first.
func (r *RedisClient) GetMinedBlocks(limit int64) ([]*MinedBlock, error) {
	cmd := r.client.ZRevRangeWithScores(r.formatKey("blocks", "mined"), 0, limit-1)
	if cmd.Err() != nil {
		return nil, cmd.Err()
	}
	result := make([]*MinedBlock, 0, len(cmd.Val()))
	for _, z := range cmd.Val() {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		block, err := parseMinedBlock(member)
		if err != nil {
			return nil, err
		}
		result = append(result, block)
	}
	return result, nil
}

func parseMinedBlock(member string) (*MinedBlock, error) {
	fields := strings.Split(member, ":")
	if len(fields) != 5 {
		return nil, fmt.Errorf("malformed mined block entry %q", member)
	}
	var block MinedBlock
	var err error
	if block.Height, err = strconv.ParseUint(fields[0], 10, 64); err != nil {
		return nil, fmt.Errorf("mined block height: %w", err)
	}
	block.Hash = fields[1]
	if block.ForeignHeight, err = strconv.ParseUint(fields[2], 10, 64); err != nil {
		return nil, fmt.Errorf("mined block foreign height: %w", err)
	}
	if block.ForeignAccepted, err = strconv.ParseBool(fields[3]); err != nil {
		return nil, fmt.Errorf("mined block foreign status: %w", err)
	}
	if block.Timestamp, err = strconv.ParseInt(fields[4], 10, 64); err != nil {
		return nil, fmt.Errorf("mined block timestamp: %w", err)
	}
	return &block, nil
}

func (r *RedisClient) formatKey(args ...interface{}) string {
	return join(r.prefix, join(args...))
}

func join(args ...interface{}) string {
	s := make([]string, len(args))
	for i, v := range args {
		switch v := v.(type) {
		case string:
			s[i] = v
		case int64:
			s[i] = strconv.FormatInt(v, 10)
		case uint64:
			s[i] = strconv.FormatUint(v, 10)
		case bool:
			s[i] = strconv.FormatBool(v)
		default:
			s[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(s, ":")
}
