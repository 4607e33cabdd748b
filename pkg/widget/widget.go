// Package widget assembles the timeline, ask pipeline, command dispatcher, feedback tracker,
// quota monitor and session manager behind one mounted assistant widget.
package widget

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/ask"
	"github.com/go-go-golems/convocore/pkg/commands"
	"github.com/go-go-golems/convocore/pkg/feedback"
	"github.com/go-go-golems/convocore/pkg/pending"
	"github.com/go-go-golems/convocore/pkg/quota"
	"github.com/go-go-golems/convocore/pkg/session"
	"github.com/go-go-golems/convocore/pkg/timeline"
)

type Config struct {
	// ID names the widget in logs and event topics. Generated when empty.
	ID      string
	BaseCtx context.Context

	Host         commands.Host
	Accounts     commands.Accounts
	Tours        []string
	FeedbackSink feedback.Sink
	Pending      *pending.Store

	Descriptors []session.Descriptor
	ModelID     string

	MinDelay         time.Duration
	FragmentDelay    time.Duration
	MaxMessageLength int
	WarningMargin    int
}

// Widget is one mounted assistant surface. Everything it owns lives until Unmount.
type Widget struct {
	id      string
	baseCtx context.Context
	logger  zerolog.Logger

	store        *timeline.Store
	conversation *ask.Conversation
	pipeline     *ask.Pipeline
	dispatcher   *commands.Dispatcher
	tracker      *feedback.Tracker
	monitor      *quota.Monitor
	manager      *session.Manager
	pending      *pending.Store

	mu           sync.Mutex
	open         bool
	unmounted    bool
	unsubPending func()

	wg sync.WaitGroup
}

func New(cfg Config) (*Widget, error) {
	baseCtx := cfg.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	id := cfg.ID
	if id == "" {
		id = timeline.NewID()
	}
	store := timeline.NewStore()
	conv := &ask.Conversation{}

	dispatcher, err := commands.NewDispatcher(commands.DispatcherConfig{
		Store:    store,
		Host:     cfg.Host,
		Accounts: cfg.Accounts,
		Tours:    cfg.Tours,
	})
	if err != nil {
		return nil, errors.Wrap(err, "widget: build dispatcher")
	}

	manager := session.NewManager(baseCtx)
	pipeline, err := ask.NewPipeline(ask.Config{
		Store:            store,
		Sessions:         manager,
		Dispatcher:       dispatcher,
		Conversation:     conv,
		MinDelay:         cfg.MinDelay,
		FragmentDelay:    cfg.FragmentDelay,
		MaxMessageLength: cfg.MaxMessageLength,
	})
	if err != nil {
		return nil, errors.Wrap(err, "widget: build pipeline")
	}

	margin := cfg.WarningMargin
	if margin == 0 {
		margin = quota.DefaultWarningMargin
	}
	monitor := quota.NewMonitor(margin)
	monitor.Attach(store)

	pend := cfg.Pending
	if pend == nil {
		pend = pending.NewStore()
	}

	w := &Widget{
		id:           id,
		baseCtx:      baseCtx,
		logger:       log.With().Str("component", "widget").Str("widget_id", id).Logger(),
		store:        store,
		conversation: conv,
		pipeline:     pipeline,
		dispatcher:   dispatcher,
		tracker:      feedback.NewTracker(cfg.FeedbackSink, conv.ID),
		monitor:      monitor,
		manager:      manager,
		pending:      pend,
	}
	if cfg.ModelID != "" {
		manager.Select(cfg.ModelID)
	}
	manager.SetDescriptors(cfg.Descriptors)
	w.unsubPending = pend.Subscribe(func(m *pending.Message) {
		if m == nil || !w.isOpen() {
			return
		}
		w.goConsumePending()
	})
	return w, nil
}

func (w *Widget) ID() string                      { return w.id }
func (w *Widget) Store() *timeline.Store          { return w.store }
func (w *Widget) Sessions() *session.Manager      { return w.manager }
func (w *Widget) Feedback() *feedback.Tracker     { return w.tracker }
func (w *Widget) Quota() *quota.Monitor           { return w.monitor }
func (w *Widget) Conversation() *ask.Conversation { return w.conversation }

func (w *Widget) isOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open && !w.unmounted
}

// Ask sends text through the pipeline.
func (w *Widget) Ask(ctx context.Context, text string, opts ask.Options) error {
	return w.pipeline.Ask(ctx, text, opts)
}

// Open shows the widget. The current session is initialized if needed and a queued pending
// message is sent once initialization settles.
func (w *Widget) Open(ctx context.Context) error {
	w.mu.Lock()
	if w.unmounted {
		w.mu.Unlock()
		return ask.ErrStopped
	}
	w.open = true
	w.mu.Unlock()

	w.manager.SetOpen(true)
	if _, ok := w.pending.Peek(); !ok {
		return nil
	}
	w.manager.Wait()
	return w.consumePending(ctx)
}

func (w *Widget) Close() {
	w.mu.Lock()
	w.open = false
	w.mu.Unlock()
	w.manager.SetOpen(false)
}

func (w *Widget) goConsumePending() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.manager.Wait()
		if err := w.consumePending(w.baseCtx); err != nil {
			w.logger.Warn().Err(err).Msg("pending message not sent")
		}
	}()
}

// consumePending sends the queued message unless a turn is already running, in which case it
// stays queued.
func (w *Widget) consumePending(ctx context.Context) error {
	if w.pipeline.InFlight() {
		return nil
	}
	m, ok := w.pending.Take()
	if !ok {
		return nil
	}
	w.logger.Debug().Msg("sending pending message")
	return w.pipeline.Ask(ctx, m.Text, ask.Options{HideUserEcho: m.HideUserEcho, OptionID: m.OptionID})
}

// SelectModel changes the current session.
func (w *Widget) SelectModel(modelID string) {
	w.manager.Select(modelID)
}

func (w *Widget) SetDescriptors(ds []session.Descriptor) {
	w.manager.SetDescriptors(ds)
}

// StartNewConversation starts a fresh backend conversation and clears the timeline and every
// feedback record. It is the action offered by a danger quota alert.
func (w *Widget) StartNewConversation(ctx context.Context) (session.Conversation, error) {
	if w.pipeline.InFlight() {
		return session.Conversation{}, ask.ErrInFlight
	}
	d, ok := w.manager.Current()
	if !ok || d.Session == nil {
		return session.Conversation{}, ask.ErrNoSession
	}
	conv, err := d.Session.CreateNewConversation(ctx)
	if err != nil {
		return session.Conversation{}, errors.Wrap(err, "widget: create conversation")
	}
	w.conversation.Set(conv.ID)
	w.store.Reset()
	w.tracker.Reset()
	w.logger.Info().Str("conversation_id", conv.ID).Str("model_id", d.ModelID).Msg("new conversation started")
	return conv, nil
}

// CopyMessage copies the text of an assistant message to cb.
func (w *Widget) CopyMessage(cb feedback.Clipboard, messageID string) error {
	m, ok := w.store.Find(messageID)
	if !ok {
		return errors.Errorf("widget: message %s not found", messageID)
	}
	return feedback.CopyText(cb, m)
}

// Unmount stops the pipeline, waits for running handlers and detaches observers. In-flight
// backend results are discarded.
func (w *Widget) Unmount() {
	w.mu.Lock()
	if w.unmounted {
		w.mu.Unlock()
		return
	}
	w.unmounted = true
	w.open = false
	w.mu.Unlock()

	w.unsubPending()
	w.pipeline.Stop()
	w.manager.SetOpen(false)
	w.monitor.Detach()

	w.wg.Wait()
	w.pipeline.Wait()
	w.dispatcher.Wait()
	w.manager.Wait()
	w.logger.Debug().Msg("widget unmounted")
}
