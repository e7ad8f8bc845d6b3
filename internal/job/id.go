package job

import (
	"encoding/base64"

	"github.com/emoki/snipr/internal/types"
)

// ID returns the scheduler key for an item: "<site>:<url as unpadded base64url>".
// The same (site, url) always yields the same id.
func ID(site types.SiteCode, url string) string {
	return string(site) + ":" + base64.RawURLEncoding.EncodeToString([]byte(url))
}
