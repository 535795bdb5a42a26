package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	SourceDisk = "disk"
	SourceMem  = "mem"
	SourceResp = "resp"

	CheckpointKV     = "kv"
	CheckpointSQLite = "sqlite"
	CheckpointRedis  = "redis"
	CheckpointMem    = "mem"
	CheckpointResp   = "resp"

	SinkHttp = "http"

	DefaultBatchSize      = 100
	DefaultProgressBuffer = 16
)

type Config struct {
	Main struct {
		Gops  bool `toml:"gops"`
		Debug bool `toml:"debug"`
	} `toml:"main"`
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
		// File is the rotating log file path prefix.
		File          string `toml:"file"`
		MaxDays       int    `toml:"max_days"`
		MaxFileSize   int    `toml:"max_file_size"`
		MaxFilePerDay int    `toml:"max_file_per_day"`
	} `toml:"log"`
	Source struct {
		Provider   string `toml:"provider"`
		DataFolder string `toml:"data_folder"`
		WalFolder  string `toml:"wal_folder"`
		Addr       string `toml:"addr"`
	} `toml:"source"`
	Checkpoint struct {
		Provider string `toml:"provider"`
		Folder   string `toml:"folder"`
		Path     string `toml:"path"`
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Prefix   string `toml:"prefix"`
	} `toml:"checkpoint"`
	Sink struct {
		Provider       string        `toml:"provider"`
		Url            string        `toml:"url"`
		AccessPassword string        `toml:"access_password"`
		Timeout        time.Duration `toml:"timeout"`
	} `toml:"sink"`
	Resp struct {
		Enable   bool   `toml:"enable"`
		Listener string `toml:"listener"`
	} `toml:"resp"`
	Http struct {
		Enable         bool   `toml:"enable"`
		Listener       string `toml:"listener"`
		EnableAuth     bool   `toml:"enable_auth"`
		AccessPassword string `toml:"access_password"`
	} `toml:"http"`
	Sync struct {
		BatchSize      int      `toml:"batch_size"`
		ProgressBuffer int      `toml:"progress_buffer"`
		Replications   []string `toml:"replications"`
		// Interval of the periodic sync; zero runs every replication once.
		Interval time.Duration `toml:"interval"`
	} `toml:"sync"`
}

func Load(path string) (*Config, error) {
	c := new(Config)
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Parse(data string) (*Config, error) {
	c := new(Config)
	if _, err := toml.Decode(data, c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate applies defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.BatchSize < 0 {
		return errors.Errorf("sync.batch_size must be positive: %d", c.Sync.BatchSize)
	}
	if c.Sync.ProgressBuffer <= 0 {
		c.Sync.ProgressBuffer = DefaultProgressBuffer
	}
	if c.Sync.Interval < 0 {
		return errors.New("sync.interval must not be negative")
	}

	switch c.Source.Provider {
	case SourceDisk:
		if c.Source.DataFolder == "" || c.Source.WalFolder == "" {
			return errors.New("source.data_folder and source.wal_folder are required")
		}
	case SourceMem:
	case SourceResp:
		if c.Source.Addr == "" {
			return errors.New("source.addr is required")
		}
	default:
		return errors.Errorf("unknown source provider: %q", c.Source.Provider)
	}

	switch c.Checkpoint.Provider {
	case CheckpointKV:
		if c.Checkpoint.Folder == "" {
			return errors.New("checkpoint.folder is required")
		}
	case CheckpointSQLite:
		if c.Checkpoint.Path == "" {
			return errors.New("checkpoint.path is required")
		}
	case CheckpointRedis, CheckpointResp:
		if c.Checkpoint.Addr == "" {
			return errors.New("checkpoint.addr is required")
		}
	case CheckpointMem:
	default:
		return errors.Errorf("unknown checkpoint provider: %q", c.Checkpoint.Provider)
	}

	if len(c.Sync.Replications) > 0 {
		switch c.Sink.Provider {
		case SinkHttp:
			if c.Sink.Url == "" {
				return errors.New("sink.url is required")
			}
		default:
			return errors.Errorf("unknown sink provider: %q", c.Sink.Provider)
		}
	}

	if c.Resp.Enable && c.Resp.Listener == "" {
		return errors.New("resp.listener is required")
	}
	if c.Http.Enable && c.Http.Listener == "" {
		return errors.New("http.listener is required")
	}
	return nil
}
