package cache

import (
	"expvar"

	"github.com/INLOpen/casc/core"
)

// Interface defines the public API of the decoded content cache.
type Interface interface {
	Put(key core.Key, content []byte)
	Get(key core.Key) (content []byte, ok bool)
	Clear()
	GetHitRate() float64
	SetMetrics(hits, misses *expvar.Int)
	Len() int
}
