package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// LogFile enables a size-rotated copy of the log output.
	LogFile string `envconfig:"LOG_FILE"`
	// APIKey guards the internal maintenance endpoints for schedulers
	// that carry no user token.
	APIKey string `envconfig:"API_KEY" required:"true"`
}

type AuthEnv struct {
	JWTSecret  string `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer  string `envconfig:"JWT_ISSUER"`
	AdminGroup string `envconfig:"ADMIN_GROUP" default:"admin"`
}

type AWSEnv struct {
	Region   string `envconfig:"AWS_REGION" default:"ap-northeast-1"`
	Endpoint string `envconfig:"AWS_ENDPOINT"`
}

type StorageEnv struct {
	// Type selects the record store: local, s3, dynamodb or sql.
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskwarden/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskwarden/"`
	// DynamoDB settings (used when Type == "dynamodb")
	TasksTable         string `envconfig:"DYNAMODB_TASKS_TABLE" default:"tasks"`
	UsersTable         string `envconfig:"DYNAMODB_USERS_TABLE" default:"users"`
	NotificationsTable string `envconfig:"DYNAMODB_NOTIFICATIONS_TABLE" default:"notifications"`
	// SQL settings (used when Type == "sql")
	SQLiteDSN string `envconfig:"SQLITE_DSN" default:".taskwarden/taskwarden.db"`
}

type QueueEnv struct {
	// Type selects the job queue: memory, redis or sqs.
	Type              string        `envconfig:"QUEUE_TYPE" default:"memory"`
	DedupeWindow      time.Duration `envconfig:"QUEUE_DEDUPE_WINDOW" default:"5m"`
	VisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"30s"`
	MaxAttempts       int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5"`
	BatchSize         int           `envconfig:"QUEUE_BATCH_SIZE" default:"10"`
	Workers           int           `envconfig:"QUEUE_WORKERS" default:"4"`
	RedisStream       string        `envconfig:"QUEUE_REDIS_STREAM" default:"taskwarden:jobs"`
	RedisGroup        string        `envconfig:"QUEUE_REDIS_GROUP" default:"consumers"`
	SQSQueueURL       string        `envconfig:"QUEUE_SQS_URL"`
}

type ChannelEnv struct {
	// Type selects the primary publisher: local, redis or sns.
	Type              string `envconfig:"CHANNEL_TYPE" default:"local"`
	AssignmentTopic   string `envconfig:"TOPIC_ASSIGNMENT" default:"task-assignment"`
	DeadlineTopic     string `envconfig:"TOPIC_DEADLINE" default:"task-deadline"`
	CompletionTopic   string `envconfig:"TOPIC_COMPLETION" default:"task-complete"`
	NotificationTopic string `envconfig:"TOPIC_NOTIFICATION" default:"task-notification"`
	AdminTopic        string `envconfig:"TOPIC_ADMIN" default:"task-admin"`
	DeletionTopic     string `envconfig:"TOPIC_DELETION" default:"task-delete"`
	// SNSTopicARNPrefix is joined with a topic name to form its ARN.
	SNSTopicARNPrefix string        `envconfig:"SNS_TOPIC_ARN_PREFIX"`
	BreakerTimeout    time.Duration `envconfig:"CHANNEL_BREAKER_TIMEOUT" default:"30s"`
	BreakerFailures   uint32        `envconfig:"CHANNEL_BREAKER_FAILURES" default:"3"`
	// WebPush mirrors every notification to registered browsers when VAPID keys are set.
	WebPush bool `envconfig:"CHANNEL_WEBPUSH" default:"true"`
}

type RedisEnv struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
}

type SchedulerEnv struct {
	ScanInterval      time.Duration `envconfig:"SCAN_INTERVAL" default:"5m"`
	Lookahead         time.Duration `envconfig:"SCAN_LOOKAHEAD" default:"1h"`
	ImminentThreshold time.Duration `envconfig:"SCAN_IMMINENT_THRESHOLD" default:"15m"`
	ScanWorkers       int           `envconfig:"SCAN_WORKERS" default:"8"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:admin@example.com"`
}

type Env struct {
	BaseEnv
	AuthEnv
	AWSEnv
	StorageEnv
	QueueEnv
	ChannelEnv
	RedisEnv
	SchedulerEnv
	VAPIDEnv
}

const namespace = "TASKWARDEN"

// LoadEnv reads an optional .env file into the process environment and then
// decodes TASKWARDEN_* variables. Variables already set win over the file.
func LoadEnv(files ...string) (*Env, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (e *VAPIDEnv) Configured() bool {
	return e != nil && e.VAPIDPublicKey != "" && e.VAPIDPrivateKey != ""
}
