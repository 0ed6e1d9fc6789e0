package ch

import (
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// BuildClientInfo tags queries in system.query_log with the process identity
// role examples: "fourkeys-migrate"
func BuildClientInfo(role, tag string) clickhouse.ClientInfo {
	host, _ := os.Hostname()

	type kv = struct{ Name, Version string }
	products := []kv{
		{Name: "fourkeys", Version: trimOr(tag, "dev")},
		{Name: "role", Version: trimOr(role, "unknown")},
		{Name: "go", Version: runtime.Version()},
		{Name: "commit", Version: revision()},
	}
	if h := strings.TrimSpace(host); h != "" {
		products = append(products, kv{Name: "host", Version: h})
	}
	return clickhouse.ClientInfo{Products: products}
}

func revision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return "unknown"
}

func trimOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
