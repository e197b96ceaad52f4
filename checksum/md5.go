package checksum

import (
	"crypto/md5"

	"github.com/INLOpen/casc/core"
)

// MD5 returns the MD5 digest of data as a key.
func MD5(data []byte) core.Key {
	return core.Key(md5.Sum(data))
}
