// Package gateway wires the pipeline together: channels feed the
// buffer, flushed batches pass through the router, responses go through
// the dispatcher, and cron drives the compilers.
package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/rs/zerolog"
	"github.com/suryadarma/ingat/internal/buffer"
	"github.com/suryadarma/ingat/internal/bus"
	"github.com/suryadarma/ingat/internal/channel"
	"github.com/suryadarma/ingat/internal/compile"
	"github.com/suryadarma/ingat/internal/config"
	"github.com/suryadarma/ingat/internal/cron"
	"github.com/suryadarma/ingat/internal/dispatch"
	"github.com/suryadarma/ingat/internal/logging"
	"github.com/suryadarma/ingat/internal/oracle"
	"github.com/suryadarma/ingat/internal/router"
	"github.com/suryadarma/ingat/internal/store"
)

const systemPrompt = `You are a quiet observer in a group chat. You read batches of
messages and decide how to act. Your answer MUST start with exactly one tag:

SILENT
  Nothing needs a response. Use this for chatter that resolves itself.

REMIND {"person":"...","date":"2006-01-02","time":"15:04","message":"..."}
  Someone needs to be reminded of something at a specific time. All four
  fields are required.

REPLY <your answer>
  The batch contains a question or problem addressed to you.

Prefer SILENT. Only reply when you add real value.`

// Runtime is the reply-generation agent, an interface so tests can
// inject a fake.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

type RuntimeFactory func(cfg *config.Config, sysPrompt string) (Runtime, error)

// Options customize Gateway construction for testing.
type Options struct {
	RuntimeFactory RuntimeFactory
	OracleClient   oracle.Client
	SignalChan     chan os.Signal
}

func DefaultRuntimeFactory(cfg *config.Config, sysPrompt string) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

type Gateway struct {
	cfg        *config.Config
	log        zerolog.Logger
	loc        *time.Location
	bus        *bus.MessageBus
	runtime    Runtime
	store      *store.Store
	oracle     oracle.Client
	buffer     *buffer.Buffer
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	channels   *channel.Manager
	cron       *cron.Service
	hourly     *compile.HourlyCompiler
	daily      *compile.DailyCompiler
	knowledge  *compile.KnowledgeCompiler
	signalChan chan os.Signal
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	log := logging.New(cfg.Log.Level)

	loc, err := time.LoadLocation(cfg.Compile.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Compile.Timezone, err)
	}

	g := &Gateway{
		cfg:        cfg,
		log:        logging.Component(log, "gateway"),
		loc:        loc,
		signalChan: opts.SignalChan,
	}

	g.bus = bus.NewMessageBus(config.DefaultBufSize, logging.Component(log, "bus"))

	dbPath := strings.TrimSpace(cfg.Store.DBPath)
	if dbPath == "" {
		dbPath = filepath.Join(config.ConfigDir(), "data", "ingat.db")
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	g.oracle = opts.OracleClient
	if g.oracle == nil {
		g.oracle = oracle.NewClient(cfg)
	}

	factory := opts.RuntimeFactory
	if factory == nil {
		factory = DefaultRuntimeFactory
	}
	rt, err := factory(cfg, systemPrompt)
	if err != nil {
		_ = g.store.Close()
		return nil, err
	}
	g.runtime = rt

	chMgr, err := channel.NewManager(cfg.Channels, g.bus, logging.Component(log, "channel"))
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.router = router.New(g.oracle, g.store, logging.Component(log, "router"))
	g.dispatcher = dispatch.New(g.store, &busTransport{gw: g}, loc, logging.Component(log, "dispatch"))
	g.buffer = buffer.New(
		time.Duration(cfg.Buffer.DebounceSeconds)*time.Second,
		cfg.Buffer.MaxBatch,
		g.processBatch,
		logging.Component(log, "buffer"),
	)

	g.hourly = compile.NewHourlyCompiler(st, g.oracle, loc, logging.Component(log, "hourly"))
	g.daily = compile.NewDailyCompiler(st, g.oracle, loc, logging.Component(log, "daily"))
	g.knowledge = compile.NewKnowledgeCompiler(st, g.oracle, loc, logging.Component(log, "knowledge"))

	g.cron = cron.NewService(loc, logging.Component(log, "cron"))
	if err := g.registerJobs(); err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	return g, nil
}

func (g *Gateway) registerJobs() error {
	if err := g.cron.Register("hourly-compile", "0 0 * * * *", g.hourly.Run); err != nil {
		return err
	}

	dailySpec, err := atSpec(g.cfg.Compile.DailyDigestAt)
	if err != nil {
		return fmt.Errorf("daily digest time: %w", err)
	}
	if err := g.cron.Register("daily-digest", dailySpec, g.daily.Run); err != nil {
		return err
	}

	kbSpec, err := atSpec(g.cfg.Compile.KnowledgeAt)
	if err != nil {
		return fmt.Errorf("knowledge time: %w", err)
	}
	if err := g.cron.Register("knowledge-compile", kbSpec, g.knowledge.Run); err != nil {
		return err
	}

	return g.cron.Register("reminder-sweep", "0 * * * * *", g.dispatcher.SweepReminders)
}

// atSpec converts "HH:MM" into a six-field daily cron spec.
func atSpec(hhmm string) (string, error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, want HH:MM", hhmm)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute in %q", hhmm)
	}
	return fmt.Sprintf("0 %d %d * * *", minute, hour), nil
}

// busTransport adapts the bus and channel manager to the dispatcher's
// transport. Conversation IDs carry "channel:chatID".
type busTransport struct {
	gw *Gateway
}

func splitConversationID(id string) (channelName, chatID string) {
	if idx := strings.Index(id, ":"); idx >= 0 {
		return id[:idx], id[idx+1:]
	}
	return "", id
}

func (t *busTransport) Send(conversationID, text string) error {
	channelName, chatID := splitConversationID(conversationID)
	if channelName == "" {
		return fmt.Errorf("invalid conversation id %q", conversationID)
	}
	t.gw.bus.Outbound <- bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: text,
	}
	return nil
}

func (t *busTransport) React(conversationID, senderID, messageID, emoji string) error {
	channelName, chatID := splitConversationID(conversationID)
	if channelName == "" {
		return fmt.Errorf("invalid conversation id %q", conversationID)
	}
	return t.gw.channels.React(channelName, chatID, senderID, messageID, emoji)
}

// processBatch is the buffer's flush target. It persists the batch,
// routes it, and when the batch passes, runs the agent and dispatches
// the resulting action.
func (g *Gateway) processBatch(batch buffer.Batch) {
	ctx := context.Background()

	meta := router.Metadata{}
	var lines []string
	for _, msg := range batch.Messages {
		if _, err := g.store.SaveMessage(store.Message{
			ConversationID: batch.ConversationID,
			SenderID:       msg.SenderID,
			SenderName:     msg.SenderName,
			Content:        msg.Content,
			IsReply:        msg.IsReply,
			HasMedia:       msg.HasMedia,
			Mentioned:      msg.Mentioned,
			SentAt:         msg.Timestamp,
		}); err != nil {
			g.log.Error().Err(err).Str("conversation", batch.ConversationID).Msg("persist message failed")
		}

		meta.Mentioned = meta.Mentioned || msg.Mentioned
		meta.IsReply = meta.IsReply || msg.IsReply
		meta.HasMedia = meta.HasMedia || msg.HasMedia

		name := msg.SenderName
		if name == "" {
			name = msg.SenderID
		}
		lines = append(lines, name+": "+msg.Content)
	}
	text := strings.Join(lines, "\n")

	decision := g.router.Decide(ctx, batch.ConversationID, text, meta)
	g.log.Debug().
		Str("conversation", batch.ConversationID).
		Str("action", string(decision.Action)).
		Str("method", decision.Method).
		Msg("batch routed")
	if decision.Action != router.ActionPass {
		return
	}

	response, err := g.runAgent(ctx, text, batch.ConversationID)
	if err != nil {
		g.log.Error().Err(err).Str("conversation", batch.ConversationID).Msg("agent run failed")
		return
	}

	last := batch.Messages[len(batch.Messages)-1]
	g.dispatcher.Dispatch(ctx, batch.ConversationID, last, response)
}

func (g *Gateway) runAgent(ctx context.Context, prompt, sessionID string) (string, error) {
	resp, err := g.runtime.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: sessionID,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.log.Info().Strs("channels", g.channels.EnabledChannels()).Msg("channels started")

	g.cron.Start()

	go g.inboundLoop(ctx)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	g.log.Info().Msg("shutting down")
	return g.Shutdown()
}

func (g *Gateway) inboundLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.buffer.Add(msg)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown drains the buffer before anything else stops, so messages
// buffered at exit still flow through the full pipeline.
func (g *Gateway) Shutdown() error {
	g.buffer.FlushAll()
	g.cron.Stop()
	_ = g.channels.StopAll()
	if g.runtime != nil {
		g.runtime.Close()
	}
	if err := g.store.Close(); err != nil {
		g.log.Warn().Err(err).Msg("close store")
	}
	g.log.Info().Msg("shutdown complete")
	return nil
}

// Stats exposes store counters for status output.
func (g *Gateway) Stats() (store.Stats, error) {
	return g.store.Stats()
}
