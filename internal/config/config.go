package config

type Config struct {
	Rest    Rest
	Youtube Youtube
	Mapping Mapping
	Cache   Cache
	Room    Room
}

type Rest struct {
	Address           string `envconfig:"ADDRESS" default:":8080"`
	ReadTimeout       int64  `envconfig:"READ_TIMEOUT" default:"10"`
	WriteTimeout      int64  `envconfig:"WRITE_TIMEOUT" default:"0"`
	ReadHeaderTimeout int64  `envconfig:"READ_HEADER_TIMEOUT" default:"5"`
	IdleTimeout       int64  `envconfig:"IDLE_TIMEOUT" default:"60"`
}

type Youtube struct {
	Token string `envconfig:"TOKEN"`
	Limit int64  `envconfig:"LIMIT" default:"5"`
	// Requests per second against the Data API.
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"5"`
}

// Mapping configures the track-to-audio resolution cache.
type Mapping struct {
	DBPath string `envconfig:"MAPPING_DB_PATH" default:"rhythm.db"`
	// Mappings unused for this long are pruned.
	TTLHours      int64 `envconfig:"MAPPING_TTL_HOURS" default:"72"`
	SweepInterval int64 `envconfig:"MAPPING_SWEEP_INTERVAL_MINUTES" default:"60"`
}

// Cache configures the on-disk audio file cache.
type Cache struct {
	Dir           string `envconfig:"CACHE_DIR" default:"music_cache"`
	MaxFiles      int    `envconfig:"CACHE_MAX_FILES" default:"50"`
	SweepInterval int64  `envconfig:"CACHE_SWEEP_INTERVAL_MINUTES" default:"10"`
}

type Room struct {
	// Seconds a disconnected member is kept before removal.
	GraceSeconds int64 `envconfig:"ROOM_GRACE_SECONDS" default:"5"`
	// Empty inactive rooms are reaped after this many minutes.
	EmptyTTLMinutes int64 `envconfig:"ROOM_EMPTY_TTL_MINUTES" default:"5"`
	CleanupMinutes  int64 `envconfig:"ROOM_CLEANUP_MINUTES" default:"1"`
}
