package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/sourcegraph/conc"

	server "github.com/kazz187/taskwarden/internal"
	"github.com/kazz187/taskwarden/internal/authz"
	"github.com/kazz187/taskwarden/internal/config"
	"github.com/kazz187/taskwarden/internal/consumer"
	"github.com/kazz187/taskwarden/internal/event"
	"github.com/kazz187/taskwarden/internal/notification"
	"github.com/kazz187/taskwarden/internal/pushsubscription"
	"github.com/kazz187/taskwarden/internal/scanner"
	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/internal/user"
)

var (
	app     = kingpin.New("taskwarden", "Task deadline tracking and notification service")
	envFile = app.Flag("env-file", "Optional .env file").Default(".env").String()

	serveCmd        = app.Command("serve", "Run the HTTP API with the scanner and consumer loops")
	serveNoScanner  = serveCmd.Flag("no-scanner", "Do not run the deadline scanner").Bool()
	serveNoConsumer = serveCmd.Flag("no-consumer", "Do not run the notification consumer").Bool()

	scanCmd = app.Command("scan", "Run one deadline scan and print the report")

	consumeCmd = app.Command("consume", "Run the notification consumer only")

	userCmd       = app.Command("user", "User directory commands")
	userPutCmd    = userCmd.Command("put", "Create or replace a user")
	userPutID     = userPutCmd.Arg("id", "User ID").Required().String()
	userPutEmail  = userPutCmd.Flag("email", "Email address").Required().String()
	userPutName   = userPutCmd.Flag("name", "Display name").String()
	userPutRole   = userPutCmd.Flag("role", "Role").Default(string(user.RoleMember)).Enum(string(user.RoleMember), string(user.RoleAdmin))
	userListCmd   = userCmd.Command("list", "List users")
	userListRole  = userListCmd.Flag("role", "Only list users with this role").Enum(string(user.RoleMember), string(user.RoleAdmin))
	tokenCmd      = app.Command("token", "Sign a bearer token for local use")
	tokenSubject  = tokenCmd.Arg("subject", "Token subject").Required().String()
	tokenGroups   = tokenCmd.Flag("group", "Group membership, repeatable").Strings()
	tokenUsername = tokenCmd.Flag("username", "Username claim").String()
	tokenTTL      = tokenCmd.Flag("ttl", "Token lifetime").Default("24h").Duration()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv(*envFile)
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}
	closer := setupLogger(env)
	defer closer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if command == tokenCmd.FullCommand() {
		err = runToken(env)
	} else {
		err = run(ctx, env, command)
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		cancel()
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, env *config.Env, command string) error {
	d, err := newDeps(ctx, env)
	if err != nil {
		return err
	}
	defer d.Close()

	policy := authz.NewPolicy(env.AdminGroup)
	engine := task.NewEngine(d.tasks, policy, d.queue)

	switch command {
	case serveCmd.FullCommand():
		return runServe(ctx, d, policy, engine)
	case scanCmd.FullCommand():
		return runScan(ctx, d, engine)
	case consumeCmd.FullCommand():
		if env.QueueEnv.Type == "memory" {
			slog.Warn("the memory queue only holds jobs enqueued by this process")
		}
		newConsumer(d, engine).Run(ctx)
		return nil
	case userPutCmd.FullCommand():
		return runUserPut(ctx, d)
	case userListCmd.FullCommand():
		return runUserList(ctx, d)
	}
	return fmt.Errorf("unknown command %q", command)
}

func newScanner(d *deps, engine *task.Engine) *scanner.Scanner {
	return scanner.New(d.tasks, engine, scanner.Config{
		Lookahead:         d.env.Lookahead,
		ImminentThreshold: d.env.ImminentThreshold,
		Workers:           d.env.ScanWorkers,
	})
}

func newConsumer(d *deps, engine *task.Engine) *consumer.Consumer {
	dispatcher := notification.NewDispatcher(d.publisher, d.history, d.topics())
	return consumer.New(d.tasks, engine, d.users, dispatcher, d.queue, consumer.Config{
		BatchSize: d.env.BatchSize,
		Workers:   d.env.Workers,
	})
}

func runServe(ctx context.Context, d *deps, policy *authz.Policy, engine *task.Engine) error {
	env := d.env
	scan := newScanner(d, engine)

	srv := server.NewServer(
		env,
		authz.NewVerifier(env.JWTSecret, env.JWTIssuer),
		policy,
		task.NewServer(engine),
		user.NewServer(d.users, policy),
		notification.NewServer(d.history),
		pushsubscription.NewServer(d.pushSubs, env.VAPIDPublicKey),
		event.NewServer(d.bus),
		scanner.NewServer(scan),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	if !*serveNoScanner {
		wg.Go(func() { scan.Run(ctx, env.ScanInterval) })
	}
	if !*serveNoConsumer {
		wg.Go(func() { newConsumer(d, engine).Run(ctx) })
	}

	var serveErr error
	wg.Go(func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			serveErr = err
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
	return serveErr
}

func runScan(ctx context.Context, d *deps, engine *task.Engine) error {
	report, err := newScanner(d, engine).Tick(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runUserPut(ctx context.Context, d *deps) error {
	now := time.Now().UTC()
	u := &user.User{
		ID:        *userPutID,
		Email:     *userPutEmail,
		Name:      *userPutName,
		Role:      user.Role(*userPutRole),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, err := d.users.Get(ctx, u.ID); err == nil {
		u.CreatedAt = existing.CreatedAt
	}
	if err := d.users.Put(ctx, u); err != nil {
		return err
	}
	return printJSON(u)
}

func runUserList(ctx context.Context, d *deps) error {
	users, err := d.users.List(ctx, user.Role(*userListRole))
	if err != nil {
		return err
	}
	return printJSON(users)
}

func runToken(env *config.Env) error {
	claims := &authz.Claims{
		Subject:  *tokenSubject,
		Username: *tokenUsername,
		Groups:   *tokenGroups,
	}
	if strings.Contains(claims.Subject, "@") {
		claims.Email = claims.Subject
	}
	token, err := authz.NewVerifier(env.JWTSecret, env.JWTIssuer).Sign(claims, *tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
