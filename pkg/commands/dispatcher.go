package commands

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/convocore/pkg/timeline"
)

// DefaultTours are the tour names accepted by tour-start when none are configured.
var DefaultTours = []string{"getting-started", "insights", "settings"}

type DispatcherConfig struct {
	Store    *timeline.Store
	Host     Host
	Accounts Accounts
	Tours    []string
}

// Dispatcher maps commands to handlers. Handler failures never escape Dispatch; they become
// command-specific failure banners or log lines.
type Dispatcher struct {
	store    *timeline.Store
	host     Host
	accounts Accounts
	tours    map[string]struct{}

	wg sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("dispatcher: timeline store is nil")
	}
	host := cfg.Host
	if host == nil {
		host = NopHost{}
	}
	tours := cfg.Tours
	if len(tours) == 0 {
		tours = DefaultTours
	}
	d := &Dispatcher{
		store:    cfg.Store,
		host:     host,
		accounts: cfg.Accounts,
		tours:    map[string]struct{}{},
	}
	for _, t := range tours {
		d.tours[t] = struct{}{}
	}
	return d, nil
}

// DispatchSpec parses spec and dispatches it. Unknown command types are ignored.
func (d *Dispatcher) DispatchSpec(ctx context.Context, spec timeline.CommandSpec, origin timeline.Message) {
	cmd, ok := Parse(spec)
	if !ok {
		log.Debug().Str("component", "commands").Str("command", spec.Type).Msg("ignoring unknown command")
		return
	}
	d.Dispatch(ctx, cmd, origin)
}

// Dispatch runs cmd. Local commands complete before Dispatch returns so their messages land
// directly after origin; commands that call the network run in the background.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command, origin timeline.Message) {
	if d == nil || cmd == nil {
		return
	}
	logger := log.With().Str("component", "commands").Str("command", string(cmd.Name())).Logger()
	if origin != nil {
		logger = logger.With().Str("message_id", origin.MessageID()).Logger()
	}

	switch c := cmd.(type) {
	case FinishConversation:
		d.guard(logger, func() { d.finishConversation() })
	case Redirect:
		d.guard(logger, func() { d.redirect(logger, c) })
	case TourStart:
		d.guard(logger, func() { d.tourStart(logger, c) })
	case FeedbackModal:
		d.guard(logger, func() { d.host.ToggleFeedbackModal(c.Open) })
	case Thumbs:
		d.guard(logger, func() { d.append(timeline.FeedbackPromptMessage{Base: timeline.NewBase(), Prompt: c.Prompt}) })
	case ManageOrg2FA:
		d.background(logger, func() { d.manageOrg2FA(ctx, logger, c) }, func() { d.toggle2FAFailed(c) })
	case CreateServiceAccount:
		d.background(logger, func() { d.createServiceAccount(ctx, logger, c) }, func() { d.createServiceAccountFailed(c) })
	default:
		logger.Warn().Msg("no handler registered for command")
	}
}

// Wait blocks until every background handler has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) guard(logger zerolog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("command handler panicked")
		}
	}()
	fn()
}

func (d *Dispatcher) background(logger zerolog.Logger, fn func(), onPanic func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Msg("command handler panicked")
				onPanic()
			}
		}()
		fn()
	}()
}

func (d *Dispatcher) append(m timeline.Message) {
	if err := d.store.Append(m); err != nil {
		log.Error().Err(err).Str("component", "commands").Msg("failed to append command outcome")
	}
}

func (d *Dispatcher) finishConversation() {
	d.append(timeline.NewSystem(timeline.KindFinishConversationMessage))
	d.append(timeline.NewBanner(timeline.KindFinishConversationBanner))
}

func (d *Dispatcher) redirect(logger zerolog.Logger, c Redirect) {
	if c.URL == "" {
		logger.Error().Msg("redirect command is missing a url")
		return
	}
	d.append(timeline.NewSystem(timeline.KindRedirectMessage, c.URL))
	if err := d.host.OpenURL(c.URL); err != nil {
		logger.Error().Err(err).Str("url", c.URL).Msg("host failed to open url")
	}
}

func (d *Dispatcher) tourStart(logger zerolog.Logger, c TourStart) {
	if _, ok := d.tours[c.Tour]; !ok {
		logger.Error().Str("tour", c.Tour).Msg("unknown tour")
		return
	}
	if err := d.host.StartTour(c.Tour); err != nil {
		logger.Error().Err(err).Str("tour", c.Tour).Msg("host failed to start tour")
	}
}

func (d *Dispatcher) manageOrg2FA(ctx context.Context, logger zerolog.Logger, c ManageOrg2FA) {
	err := func() error {
		if d.accounts == nil {
			return errors.New("no accounts client configured")
		}
		token, err := d.host.GetAuthToken(ctx)
		if err != nil {
			return errors.Wrap(err, "get auth token")
		}
		user, err := d.host.GetCurrentUser(ctx)
		if err != nil {
			return errors.Wrap(err, "get current user")
		}
		return d.accounts.SetOrg2FA(ctx, token, user.OrgID, c.Enable)
	}()
	if err != nil {
		logger.Warn().Err(err).Bool("enabled", c.Enable).Msg("toggle org 2fa failed")
		d.toggle2FAFailed(c)
		return
	}
	d.append(timeline.NewBanner(timeline.KindToggleOrg2FA, strconv.FormatBool(c.Enable)))
}

func (d *Dispatcher) toggle2FAFailed(c ManageOrg2FA) {
	d.append(timeline.NewBanner(timeline.KindToggleOrg2FAFailed, strconv.FormatBool(c.Enable)))
}

func (d *Dispatcher) createServiceAccount(ctx context.Context, logger zerolog.Logger, c CreateServiceAccount) {
	sa, err := func() (ServiceAccount, error) {
		if d.accounts == nil {
			return ServiceAccount{}, errors.New("no accounts client configured")
		}
		token, err := d.host.GetAuthToken(ctx)
		if err != nil {
			return ServiceAccount{}, errors.Wrap(err, "get auth token")
		}
		return d.accounts.CreateServiceAccount(ctx, token, ServiceAccountRequest{
			Name:        c.AccountName,
			Description: c.Description,
			Environment: c.Environment,
		})
	}()
	if err != nil {
		logger.Warn().Err(err).Str("name", c.AccountName).Msg("create service account failed")
		d.createServiceAccountFailed(c)
		return
	}
	name, description := sa.Name, sa.Description
	if name == "" {
		name = c.AccountName
	}
	if description == "" {
		description = c.Description
	}
	d.append(timeline.NewBanner(timeline.KindCreateServiceAccount, name, description, sa.ClientID, sa.Secret))
}

func (d *Dispatcher) createServiceAccountFailed(c CreateServiceAccount) {
	d.append(timeline.NewBanner(timeline.KindCreateServiceAccountFailed, c.AccountName, c.Description))
}
