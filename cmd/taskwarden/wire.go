package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/rueidis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kazz187/taskwarden/internal/channel"
	"github.com/kazz187/taskwarden/internal/config"
	"github.com/kazz187/taskwarden/internal/eventbus"
	"github.com/kazz187/taskwarden/internal/notification"
	notificationrepo "github.com/kazz187/taskwarden/internal/notification/repositoryimpl"
	"github.com/kazz187/taskwarden/internal/pushsubscription"
	pushsubrepo "github.com/kazz187/taskwarden/internal/pushsubscription/repositoryimpl"
	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/task"
	taskrepo "github.com/kazz187/taskwarden/internal/task/repositoryimpl"
	"github.com/kazz187/taskwarden/internal/user"
	userrepo "github.com/kazz187/taskwarden/internal/user/repositoryimpl"
	"github.com/kazz187/taskwarden/pkg/clog"
	"github.com/kazz187/taskwarden/pkg/storage"
)

func setupLogger(env *config.Env) io.Closer {
	out, closer := clog.Output(clog.RotationConfig{
		Filename:   env.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(out, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
	return closer
}

// deps holds the backends shared by every subcommand.
type deps struct {
	env       *config.Env
	awsCfg    *aws.Config
	redis     rueidis.Client
	bus       *eventbus.Bus
	tasks     task.Repository
	users     user.Repository
	history   notification.Repository
	pushSubs  pushsubscription.Repository
	queue     queue.Queue
	publisher channel.Publisher
}

func (d *deps) Close() {
	if d.redis != nil {
		d.redis.Close()
	}
}

func (d *deps) aws(ctx context.Context) (aws.Config, error) {
	if d.awsCfg != nil {
		return *d.awsCfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.env.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if d.env.Endpoint != "" {
		cfg.BaseEndpoint = aws.String(d.env.Endpoint)
	}
	d.awsCfg = &cfg
	return cfg, nil
}

func (d *deps) redisClient() (rueidis.Client, error) {
	if d.redis != nil {
		return d.redis, nil
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{d.env.Addr},
		Password:    d.env.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis %s: %w", d.env.Addr, err)
	}
	d.redis = client
	return client, nil
}

func newDeps(ctx context.Context, env *config.Env) (*deps, error) {
	d := &deps{env: env, bus: eventbus.New()}
	if err := d.setupStorage(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.setupQueue(ctx); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.setupChannel(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) setupStorage(ctx context.Context) error {
	env := d.env.StorageEnv

	// Push subscriptions are small and always live in the object store.
	var store storage.Storage
	switch env.Type {
	case "s3":
		cfg, err := d.aws(ctx)
		if err != nil {
			return err
		}
		store = storage.NewS3Storage(cfg, env.S3Bucket, env.S3Prefix)
	default:
		local, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return err
		}
		store = local
	}
	d.pushSubs = pushsubrepo.NewYAMLRepository(store)

	switch env.Type {
	case "local", "s3":
		d.tasks = taskrepo.NewYAMLRepository(store)
		d.users = userrepo.NewYAMLRepository(store)
		d.history = notificationrepo.NewYAMLRepository(store)
	case "dynamodb":
		cfg, err := d.aws(ctx)
		if err != nil {
			return err
		}
		client := dynamodb.NewFromConfig(cfg)
		d.tasks = taskrepo.NewDynamoDBRepository(client, env.TasksTable)
		d.users = userrepo.NewDynamoDBRepository(client, env.UsersTable)
		d.history = notificationrepo.NewDynamoDBRepository(client, env.NotificationsTable)
	case "sql":
		db, err := gorm.Open(sqlite.Open(env.SQLiteDSN), &gorm.Config{
			Logger:         logger.Discard,
			TranslateError: true,
		})
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", env.SQLiteDSN, err)
		}
		if d.tasks, err = taskrepo.NewGormRepository(db); err != nil {
			return err
		}
		if d.users, err = userrepo.NewGormRepository(db); err != nil {
			return err
		}
		if d.history, err = notificationrepo.NewGormRepository(db); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage type %q", env.Type)
	}
	slog.Info("storage ready", "type", env.Type)
	return nil
}

func (d *deps) setupQueue(ctx context.Context) error {
	env := d.env.QueueEnv
	switch env.Type {
	case "memory":
		d.queue = queue.NewMemoryQueue(
			queue.WithDedupeWindow(env.DedupeWindow),
			queue.WithVisibilityTimeout(env.VisibilityTimeout),
			queue.WithMaxAttempts(env.MaxAttempts),
		)
	case "redis":
		client, err := d.redisClient()
		if err != nil {
			return err
		}
		hostname, _ := os.Hostname()
		q, err := queue.NewRedisQueue(ctx, client, queue.RedisConfig{
			Stream:       env.RedisStream,
			Group:        env.RedisGroup,
			Consumer:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
			DedupeWindow: env.DedupeWindow,
			ClaimIdle:    env.VisibilityTimeout,
			MaxAttempts:  env.MaxAttempts,
		})
		if err != nil {
			return err
		}
		d.queue = q
	case "sqs":
		if env.SQSQueueURL == "" {
			return fmt.Errorf("TASKWARDEN_QUEUE_SQS_URL is required for the sqs queue")
		}
		cfg, err := d.aws(ctx)
		if err != nil {
			return err
		}
		d.queue = queue.NewSQSQueue(cfg, env.SQSQueueURL, int32(env.VisibilityTimeout.Seconds()))
	default:
		return fmt.Errorf("unknown queue type %q", env.Type)
	}
	slog.Info("queue ready", "type", env.Type)
	return nil
}

func (d *deps) setupChannel(ctx context.Context) error {
	env := d.env.ChannelEnv
	local := channel.NewLocalPublisher(d.bus)

	var primary channel.Publisher
	switch env.Type {
	case "local":
		primary = local
	case "redis":
		client, err := d.redisClient()
		if err != nil {
			return err
		}
		primary = channel.NewRedisPublisher(client, "taskwarden:")
	case "sns":
		cfg, err := d.aws(ctx)
		if err != nil {
			return err
		}
		primary = channel.NewSNSPublisher(cfg, env.SNSTopicARNPrefix)
	default:
		return fmt.Errorf("unknown channel type %q", env.Type)
	}
	primary = channel.NewBreaker(env.Type, primary, env.BreakerFailures, env.BreakerTimeout)

	var mirrors []channel.Publisher
	if env.Type != "local" {
		mirrors = append(mirrors, local)
	}
	if env.WebPush && d.env.VAPIDEnv.Configured() {
		mirrors = append(mirrors, channel.NewWebPushPublisher(&d.env.VAPIDEnv, d.pushSubs))
	}
	d.publisher = channel.NewFanout(primary, mirrors...)
	slog.Info("channel ready", "type", env.Type, "mirrors", len(mirrors))
	return nil
}

func (d *deps) topics() notification.Topics {
	env := d.env.ChannelEnv
	return notification.Topics{
		Assignment:   env.AssignmentTopic,
		Deadline:     env.DeadlineTopic,
		Completion:   env.CompletionTopic,
		Notification: env.NotificationTopic,
		Admin:        env.AdminTopic,
		Deletion:     env.DeletionTopic,
	}
}
