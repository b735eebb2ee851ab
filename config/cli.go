package config

import (
	"flag"
	"strings"
	"time"
)

// Cli holds every runtime option of the API server. Values are populated from
// flags, environment variables (REELHOUSE_ prefix) or a plain config file.
type Cli struct {
	HTTPAddress string
	APIToken    string

	DatabaseURL string

	ObjectStoreEndpoint string
	ObjectStoreKey      string
	ObjectStoreSecret   string
	ObjectStoreRegion   string
	ObjectStoreBucket   string
	PublicBaseURL       string

	UploadDir            string
	TranscodeConcurrency int
	QueueConcurrency     int
	QueueDepth           int
	SegmentDurationSec   int

	ProbeTimeout  time.Duration
	UploadTimeout time.Duration

	AllowedOrigins []string
}

// CommaSliceFlag registers a flag that parses a comma-separated list.
func CommaSliceFlag(fs *flag.FlagSet, dest *[]string, name string, value []string, usage string) {
	*dest = value
	fs.Func(name, usage, func(s string) error {
		if s == "" {
			*dest = nil
			return nil
		}
		*dest = strings.Split(s, ",")
		return nil
	})
}
