package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"cabildo-bot/internal/auth"
	"cabildo-bot/internal/data/filestore"
	"cabildo-bot/internal/data/redisstore"
	"cabildo-bot/internal/data/store"
	"cabildo-bot/internal/event"
	"cabildo-bot/internal/handler"
	"cabildo-bot/internal/infra/config"
	"cabildo-bot/internal/infra/logger"
	"cabildo-bot/internal/service/conversation"
	"cabildo-bot/internal/service/dedup"
	"cabildo-bot/internal/service/graph"
	"cabildo-bot/internal/service/jobs"
	"cabildo-bot/internal/service/media"
	"cabildo-bot/internal/service/profile"
	"cabildo-bot/internal/service/send"
	"cabildo-bot/internal/service/session"
	"cabildo-bot/internal/service/transcribe"
	"cabildo-bot/internal/service/webapp"
)

const (
	mediaMaxAge     = 24 * time.Hour
	mediaSweepEvery = time.Hour
	handleTimeout   = 2 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// App is the main application orchestrator. New opens the configured
// backends; Serve and RunWorker run the two process roles on top of them.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Store    *store.Container // nil unless a backend or the transport needs sqlite
	Redis    *redis.Client    // nil unless a backend needs redis
	Profiles *profile.Store
	Broker   jobs.Broker
	WebApp   *webapp.Client
	Graph    *graph.Client

	closers []func() error
}

// New creates a new App instance.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.New("cabildo", cfg.LogLevel)
	a := &App{Config: cfg, Log: log}

	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config

	if err := cfg.EnsureStorePath(); err != nil {
		return fmt.Errorf("failed to ensure store path: %w", err)
	}

	if cfg.UsesSQLite() {
		s, err := store.New(filepath.Join(cfg.StorePath, "cabildo.db"), a.Log)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		a.Store = store.NewContainer(s, store.ContainerConfig{JobPoll: cfg.Worker.PollInterval})
		a.closers = append(a.closers, a.Store.Close)
	}

	if cfg.UsesRedis() {
		rdb, err := redisstore.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	backend, err := a.profileBackend()
	if err != nil {
		return err
	}
	a.Profiles = profile.NewStore(backend, a.Log)

	if a.Broker, err = a.broker(ctx); err != nil {
		return err
	}

	a.WebApp = webapp.New(cfg.WebApp.BaseURL, cfg.WebApp.Timeout, a.Log)
	if !a.WebApp.Configured() {
		a.Log.Warnf("WEB_APP_BASE_URL not set, background sync is skipped")
	}

	if cfg.Transport == config.TransportCloudAPI {
		a.Graph = graph.NewClient(graph.Config{
			BaseURL:       cfg.CloudAPI.GraphBaseURL,
			APIVersion:    cfg.CloudAPI.APIVersion,
			Token:         cfg.CloudAPI.Token,
			PhoneNumberID: cfg.CloudAPI.PhoneNumberID,
		})
	}
	return nil
}

func (a *App) profileBackend() (profile.Backend, error) {
	switch a.Config.Storage.Profiles {
	case config.BackendSQLite:
		return a.Store.Profiles, nil
	case config.BackendRedis:
		return redisstore.NewProfileBackend(a.Redis), nil
	case config.BackendFile:
		return filestore.NewProfileBackend(filepath.Join(a.Config.StorePath, "profiles.json"), a.Log)
	default:
		a.Log.Warnf("Profiles are kept in memory and lost on restart")
		return profile.NewMemoryBackend(), nil
	}
}

func (a *App) broker(ctx context.Context) (jobs.Broker, error) {
	switch a.Config.Storage.Queue {
	case config.BackendSQLite:
		n, err := a.Store.Jobs.Recover(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recover jobs: %w", err)
		}
		if n > 0 {
			a.Log.Infof("Requeued %d interrupted jobs", n)
		}
		return a.Store.Jobs, nil
	case config.BackendRedis:
		return redisstore.NewStreamBroker(ctx, a.Redis, redisstore.StreamConfig{
			Stream: a.Config.Redis.QueueName,
			Block:  a.Config.Worker.PollInterval,
		}, a.Log)
	default:
		b := jobs.NewMemoryBroker()
		a.closers = append(a.closers, func() error { b.Close(); return nil })
		return b, nil
	}
}

func (a *App) sessions() session.Store {
	if a.Config.Storage.Sessions == config.BackendRedis {
		return redisstore.NewSessionStore(a.Redis, 2*a.Config.Survey.IdleTimeout)
	}
	return session.NewMemoryStore()
}

func (a *App) dedup() dedup.Deduplicator {
	if a.Config.Storage.Dedup == config.BackendRedis {
		return redisstore.NewDedup(a.Redis, a.Config.Survey.DedupWindow, a.Log)
	}
	return dedup.NewMemory(a.Config.Survey.DedupWindow)
}

func (a *App) outbox() send.Outbox {
	if a.Store != nil {
		return a.Store.Outbox
	}
	return send.NewMemoryOutbox()
}

func (a *App) mediaCache() media.Cache {
	if a.Store != nil {
		return a.Store.Media
	}
	return nil
}

func (a *App) transcriber() jobs.Transcriber {
	cfg := a.Config.Transcription
	var backend transcribe.Backend
	switch cfg.Provider {
	case config.TranscribeWebApp:
		backend = a.WebApp
	case config.TranscribeOpenAI:
		backend = transcribe.NewOpenAIBackend(transcribe.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
	default:
		return transcribe.None{}
	}
	return transcribe.NewService(transcribe.NewMediaFetcher(a.Graph), backend, cfg.Language, cfg.Timeout, a.Log)
}

// NewWorker builds the background worker on the configured broker.
func (a *App) NewWorker() *jobs.Worker {
	return jobs.NewWorker(a.Broker, a.Profiles, a.WebApp, a.transcriber(), jobs.WorkerConfig{
		Concurrency:  a.Config.Worker.Concurrency,
		MaxAttempts:  a.Config.Worker.MaxAttempts,
		RetryBackoff: a.Config.Worker.RetryBackoff,
	}, a.Log)
}

// RunWorker drains the queue until ctx is done.
func (a *App) RunWorker(ctx context.Context) error {
	if a.Config.Storage.Queue == config.BackendMemory {
		return errors.New("the memory queue is process-local, run serve --with-worker instead")
	}
	a.NewWorker().Run(ctx)
	return nil
}

// Serve runs the configured transport and the conversation engine until ctx
// is done. withWorker also drains the queue in this process.
func (a *App) Serve(ctx context.Context, withWorker bool) error {
	cfg := a.Config
	if cfg.Storage.Queue == config.BackendMemory && !withWorker {
		return errors.New("the memory queue needs --with-worker")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var client *Client
	var sender send.Sender
	switch {
	case cfg.Transport == config.TransportWhatsmeow:
		var err error
		client, err = NewClient(ctx, cfg, a.Store.Store, a.Log)
		if err != nil {
			return fmt.Errorf("failed to create client: %w", err)
		}
		sender = send.NewWhatsmeowSender(client.WAClient, a.Log)
	case cfg.CloudAPI.DryRun():
		a.Log.Warnf("WHATSAPP_TOKEN or WHATSAPP_PHONE_NUMBER_ID missing, replies are only logged")
		sender = send.NewLogSender(a.Log)
	default:
		sender = send.NewCloudSender(a.Graph, a.Log)
	}

	sessions := a.sessions()
	outbox := a.outbox()
	engine := conversation.NewEngine(conversation.Config{
		IdleTimeout:   cfg.Survey.IdleTimeout,
		LegacyConsent: cfg.Survey.LegacyConsent,
		VentEnabled:   cfg.Survey.VentEnabled,
		ResetKeyword:  cfg.Survey.ResetKeyword,
	}, conversation.Deps{
		Dedup:    a.dedup(),
		Sessions: sessions,
		Profiles: a.Profiles,
		Sender:   send.NewSendService(sender, outbox, a.Log),
		Queue:    a.Broker,
		Outbox:   outbox,
		Links:    a.WebApp,
	}, a.Log)
	defer engine.Close()

	var wg sync.WaitGroup
	if withWorker {
		worker := a.NewWorker()
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	var servers []*http.Server
	if cfg.DebugListen != "" {
		mux := http.NewServeMux()
		handler.NewDebug(handler.DebugDeps{
			Admin:    engine,
			Profiles: a.Profiles,
			Outbox:   outbox,
			Queue:    statsReporter(a.Broker),
			Sessions: sessionLister(sessions),
		}, a.Log).Register(mux)
		servers = append(servers, a.listen(cancel, "debug", cfg.DebugListen, mux))
	}

	var webhook *handler.Webhook
	if client != nil {
		mediaSvc := media.NewMediaService(client.WAClient, media.Config{MaxFileSizeMB: 16}, cfg.StorePath, a.mediaCache(), a.Log)
		dispatcher := event.NewDispatcher(a.Log)
		dispatcher.Register(handler.NewMessageHandler(engine, mediaSvc, a.Log))
		client.AddEventHandler(dispatcher.Handle)
		defer client.Disconnect()

		if err := a.connect(ctx, client); err != nil {
			interrupted := ctx.Err() != nil
			a.shutdown(servers)
			cancel()
			wg.Wait()
			if interrupted {
				a.Log.Infof("Shutdown during startup")
				return nil
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			a.sweepMedia(ctx, mediaSvc)
		}()
	} else {
		var reader handler.ReadMarker
		if !cfg.CloudAPI.DryRun() {
			reader = a.Graph
		}
		webhook = handler.NewWebhook(handler.WebhookConfig{
			VerifyToken:   cfg.CloudAPI.VerifyToken,
			AppSecret:     cfg.CloudAPI.AppSecret,
			MarkRead:      cfg.CloudAPI.MarkRead,
			HandleTimeout: handleTimeout,
		}, engine, reader, a.Log)
		mux := http.NewServeMux()
		webhook.Register(mux)
		servers = append(servers, a.listen(cancel, "webhook", cfg.Listen, mux))
	}

	a.Log.Infof("Cabildo bot is running (%s transport). Press Ctrl+C to stop.", cfg.Transport)
	<-ctx.Done()
	a.Log.Infof("Shutting down...")

	a.shutdown(servers)
	if webhook != nil {
		webhook.Wait()
	}
	wg.Wait()
	return nil
}

// connect handles the connection flow including QR pairing if needed.
func (a *App) connect(ctx context.Context, client *Client) error {
	if client.IsLoggedIn() {
		a.Log.Infof("Using existing session...")
		return client.Connect()
	}

	a.Log.Infof("No existing session, starting QR pairing...")
	qrChan, err := client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return auth.NewQRHandler(a.Log, a.Config.WhatsApp.QRFile).HandleQRChannel(ctx, qrChan)
}

// listen starts an HTTP server. A listener failure cancels the process.
func (a *App) listen(cancel context.CancelFunc, name, addr string, h http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		a.Log.Infof("%s listening on %s", name, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Errorf("%s listener failed: %v", name, err)
			cancel()
		}
	}()
	return srv
}

func (a *App) shutdown(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			a.Log.Warnf("Failed to shut down %s: %v", srv.Addr, err)
		}
	}
}

func (a *App) sweepMedia(ctx context.Context, svc *media.MediaService) {
	ticker := time.NewTicker(mediaSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.Sweep(mediaMaxAge)
			if err != nil {
				a.Log.Warnf("Media sweep failed: %v", err)
			} else if n > 0 {
				a.Log.Debugf("Removed %d expired clips", n)
			}
		}
	}
}

// ResetProfile deletes a participant's profile, shared session and
// downloaded clips. Sessions held in another process's memory are not
// reachable from here.
func (a *App) ResetProfile(ctx context.Context, id string) error {
	if err := a.Profiles.Delete(ctx, id); err != nil {
		return err
	}
	if a.Config.Storage.Sessions == config.BackendRedis {
		if err := a.sessions().Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return media.NewMediaService(nil, media.Config{}, a.Config.StorePath, a.mediaCache(), a.Log).Purge(ctx, id)
}

// Close releases every opened backend.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func statsReporter(b jobs.Broker) jobs.StatsReporter {
	if r, ok := b.(jobs.StatsReporter); ok {
		return r
	}
	return nil
}

func sessionLister(s session.Store) session.Lister {
	if l, ok := s.(session.Lister); ok {
		return l
	}
	return nil
}
