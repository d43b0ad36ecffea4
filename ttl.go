package querycache

import "time"

// TTL classes for cached queries. TTLRealtime disables caching: GetOrSet
// calls the fetcher every time and Set stores nothing.
const (
	TTLRealtime time.Duration = 0
	TTLShort                  = 60 * time.Second
	TTLMedium                 = 300 * time.Second
	TTLLong                   = 3600 * time.Second
	TTLStatic                 = 86400 * time.Second
)
