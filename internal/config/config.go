package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Application struct {
	Name string `mapstructure:"name" json:"name"`
	Env  string `mapstructure:"env"  json:"env"`
}

type Log struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file"  json:"file"`
}

type HTTP struct {
	Port            int           `mapstructure:"port"             json:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"  json:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"   json:"max_body_bytes"`
}

type GRPC struct {
	Port int `mapstructure:"port" json:"port"`
}

type Store struct {
	Driver string `mapstructure:"driver" json:"driver"`
}

type Mongo struct {
	URI            string        `mapstructure:"uri"             json:"-"`
	Database       string        `mapstructure:"database"        json:"database"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"   json:"max_pool_size"`
	MinPoolSize    uint64        `mapstructure:"min_pool_size"   json:"min_pool_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
}

type Redis struct {
	Addr     string        `mapstructure:"addr"     json:"addr"`
	Password string        `mapstructure:"password" json:"-"`
	DB       int           `mapstructure:"db"       json:"db"`
	TTL      time.Duration `mapstructure:"ttl"      json:"ttl"`
}

type Catalog struct {
	BaseURL            string        `mapstructure:"base_url"             json:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"              json:"timeout"`
	BreakerFailures    uint32        `mapstructure:"breaker_failures"     json:"breaker_failures"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout" json:"breaker_open_timeout"`
}

type Kafka struct {
	Brokers []string `mapstructure:"brokers" json:"brokers"`
	Topic   string   `mapstructure:"topic"   json:"topic"`
	GroupID string   `mapstructure:"group"   json:"group"`
}

type Auth struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-"`
}

type Otel struct {
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
}

type Cart struct {
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts"`
}

type Config struct {
	Application `mapstructure:"app"     json:"app"`
	Log         Log     `mapstructure:"log"     json:"log"`
	HTTP        HTTP    `mapstructure:"http"    json:"http"`
	GRPC        GRPC    `mapstructure:"grpc"    json:"grpc"`
	Store       Store   `mapstructure:"store"   json:"store"`
	Mongo       Mongo   `mapstructure:"mongo"   json:"mongo"`
	Redis       Redis   `mapstructure:"redis"   json:"redis"`
	Catalog     Catalog `mapstructure:"catalog" json:"catalog"`
	Kafka       Kafka   `mapstructure:"kafka"   json:"kafka"`
	Auth        Auth    `mapstructure:"auth"    json:"-"`
	Otel        Otel    `mapstructure:"otel"    json:"otel"`
	Cart        Cart    `mapstructure:"cart"    json:"cart"`
}

// legacyEnv maps config keys to the plain variable names the service has always read.
var legacyEnv = map[string]string{
	"http.port":        "PORT",
	"mongo.uri":        "MONGO_URI",
	"mongo.database":   "MONGO_DB_NAME",
	"redis.addr":       "REDIS_ADDR",
	"redis.password":   "REDIS_PASSWORD",
	"catalog.base_url": "PRODUCT_SERVICE_URL",
	"kafka.brokers":    "KAFKA_BROKERS",
	"auth.jwt_secret":  "JWT_SECRET",
	"app.env":          "APP_ENV",
	"log.level":        "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cart-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("http.port", 8002)
	v.SetDefault("http.request_timeout", 30*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("grpc.port", 0)
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "cartdb")
	v.SetDefault("mongo.max_pool_size", 100)
	v.SetDefault("mongo.min_pool_size", 10)
	v.SetDefault("mongo.connect_timeout", 10*time.Second)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 15*time.Minute)
	v.SetDefault("catalog.base_url", "http://localhost:8003/api/v1")
	v.SetDefault("catalog.timeout", 5*time.Second)
	v.SetDefault("catalog.breaker_failures", 5)
	v.SetDefault("catalog.breaker_open_timeout", 30*time.Second)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "checkout-outbox")
	v.SetDefault("kafka.group", "cart-service-consumer")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("cart.max_attempts", 3)
}

// Load reads defaults, then an optional yaml file, then .env and the environment.
// An empty path looks for ./config.yaml and tolerates its absence.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config with error=%w", err)
		}
	}

	v.SetEnvPrefix("CART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "CART_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("error binding env %s with error=%w", env, err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config with error=%w", err)
	}
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("store.driver must be mongo or memory, got %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url is required")
	}
	if c.Mongo.MinPoolSize > c.Mongo.MaxPoolSize {
		return fmt.Errorf("mongo.min_pool_size %d exceeds mongo.max_pool_size %d", c.Mongo.MinPoolSize, c.Mongo.MaxPoolSize)
	}
	if c.Cart.MaxAttempts < 1 {
		return fmt.Errorf("cart.max_attempts must be at least 1, got %d", c.Cart.MaxAttempts)
	}
	return nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
