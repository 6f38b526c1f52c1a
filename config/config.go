// Config loads configuration.
package config

import (
	"github.com/caarlos0/env/v11"
)

const Version = "1.0"

// Config is the process environment for both the server and the executor.
type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,notEmpty"`
	DBPoolSize    int    `env:"PG_POOL_SIZE" envDefault:"10"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`

	Port string `env:"PORT" envDefault:"9090"`

	// Basic auth credentials accepted by the HTTP API.
	AuthUser     string `env:"AUTH_USER" envDefault:"keepsake"`
	AuthPassword string `env:"AUTH_PASSWORD"`

	// Credentials the executor presents to the storage repository.
	StorageUser     string `env:"STORAGE_USER"`
	StoragePassword string `env:"STORAGE_PASSWORD"`

	// Base URIs of the two address spaces a job result can be expressed in.
	StorageBase      string `env:"STORAGE_BASE_URL" envDefault:"http://localhost:8080/fcrepo/rest"`
	PreservationBase string `env:"PRESERVATION_BASE_URL" envDefault:"http://localhost:9090"`

	ActivityPageSize int `env:"ACTIVITY_PAGE_SIZE" envDefault:"50"`

	// Shared TOTP secret for the privileged activity push endpoint. Empty
	// disables the endpoint.
	ActivityPushSecret string `env:"ACTIVITY_PUSH_SECRET"`

	// Optional Kafka fanout of completed activities.
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaActivityTopic string   `env:"KAFKA_ACTIVITY_TOPIC" envDefault:"keepsake.activity"`

	SiegfriedPath string `env:"SIEGFRIED_PATH" envDefault:"sf"`
	BlobDir       string `env:"BLOB_DIR" envDefault:"/var/lib/keepsake/blobs"`

	// Path to the YAML executor policy file. Empty uses built-in defaults.
	PolicyFile string `env:"EXECUTOR_POLICY_FILE"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var c Config
	err := env.Parse(&c)
	return c, err
}
