package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
[main]
gops = false

[log]
level = "debug"
format = "json"
file = "logs/syncany"
max_days = 3

[source]
provider = "disk"
data_folder = "data"
wal_folder = "wal"

[checkpoint]
provider = "sqlite"
path = "checkpoints.db"

[sink]
provider = "http"
url = "http://127.0.0.1:9000/ingest"
timeout = "3s"

[http]
enable = true
listener = "127.0.0.1:8080"

[sync]
replications = ["orders", "users"]
interval = "30s"
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncany.toml")
	if err := os.WriteFile(path, []byte(sample), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Sync.BatchSize != DefaultBatchSize || c.Sync.ProgressBuffer != DefaultProgressBuffer {
		t.Fatal("defaults not applied:", c.Sync.BatchSize, c.Sync.ProgressBuffer)
	}
	if c.Sink.Timeout != 3*time.Second || c.Sync.Interval != 30*time.Second {
		t.Fatal("durations not decoded:", c.Sink.Timeout, c.Sync.Interval)
	}
	if len(c.Sync.Replications) != 2 || c.Checkpoint.Path != "checkpoints.db" || c.Log.Format != "json" ||
		c.Log.File != "logs/syncany" || c.Log.MaxDays != 3 {
		t.Fatalf("unexpected config: %+v", c)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"unknown source": `
[source]
provider = "ftp"
[checkpoint]
provider = "mem"
`,
		"missing wal folder": `
[source]
provider = "disk"
data_folder = "data"
[checkpoint]
provider = "mem"
`,
		"missing redis addr": `
[source]
provider = "mem"
[checkpoint]
provider = "redis"
`,
		"negative batch size": `
[source]
provider = "mem"
[checkpoint]
provider = "mem"
[sync]
batch_size = -1
`,
		"missing sink url": `
[source]
provider = "mem"
[checkpoint]
provider = "mem"
[sink]
provider = "http"
[sync]
replications = ["a"]
`,
	}
	for name, data := range cases {
		if _, err := Parse(data); err == nil {
			t.Fatal(name, "should be rejected")
		}
	}

	if _, err := Parse("[source]\nprovider = \"mem\"\n[checkpoint]\nprovider = \"mem\"\n"); err != nil {
		t.Fatal("minimal config rejected:", err)
	}
}
