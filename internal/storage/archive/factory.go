// internal/storage/archive/factory.go
package archive

import (
	"fmt"

	"github.com/newthinker/marketsim/internal/config"
	"github.com/newthinker/marketsim/internal/core"
)

// New builds the configured backend. An empty backend name disables
// archiving and returns nil.
func New(cfg config.ArchiveConfig) (Backend, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "local":
		return NewLocalDir(cfg.Dir)
	case "s3":
		return NewS3(S3Config{
			Bucket:    cfg.Bucket,
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Prefix:    cfg.Prefix,
		})
	default:
		return nil, core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive backend %q", cfg.Backend))
	}
}
