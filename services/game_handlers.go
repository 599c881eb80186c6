package services

import (
	"context"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"owngame/bot"
	"owngame/messages"
	"owngame/models"
	"owngame/store"
)

// Timeouts for every waiting phase and the pauses between phases.
type Timeouts struct {
	Leading           time.Duration
	RegistrationStart time.Duration
	Registration      time.Duration
	Selection         time.Duration
	Press             time.Duration
	Answer            time.Duration
	Checking          time.Duration
	CatCatcher        time.Duration
	QuestionFinished  time.Duration
}

type Settings struct {
	MinPlayers int
	MaxPlayers map[models.Origin]int
	Timeouts   Timeouts
}

func (s Settings) maxPlayers(origin models.Origin) int {
	return s.MaxPlayers[origin]
}

type lockedRand struct {
	mu  sync.Mutex
	src models.Rand
}

func (r *lockedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(n)
}

// GameHandlers runs the game: each handler loads the chat's game, applies one
// transition, commits, then renders and schedules follow-ups. The dispatcher
// guarantees one handler per chat at a time.
type GameHandlers struct {
	store    *store.Store
	bus      Bus
	bots     *bot.Proxy
	feed     Feed
	settings Settings
	rnd      models.Rand
}

func NewGameHandlers(st *store.Store, bus Bus, bots *bot.Proxy, feed Feed, settings Settings, rnd models.Rand) *GameHandlers {
	if feed == nil {
		feed = Feeds{}
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	return &GameHandlers{
		store:    st,
		bus:      bus,
		bots:     bots,
		feed:     feed,
		settings: settings,
		rnd:      &lockedRand{src: rnd},
	}
}

func (h *GameHandlers) Routes() Routes {
	return Routes{
		messages.KindPlay:              {on(h.createGame)},
		messages.KindCancelGame:        {on(h.cancelGame)},
		messages.KindSetLeading:        {on(h.setLeading)},
		messages.KindStartRegistration: {on(h.startRegistration)},
		messages.KindJoin:              {on(h.join)},
		messages.KindCancelJoin:        {on(h.cancelJoin)},
		messages.KindStartGame:         {on(h.startGame)},
		messages.KindSelectQuestion:    {on(h.selectQuestion)},
		messages.KindPressButton:       {on(h.pressButton)},
		messages.KindAnswer:            {on(h.answer)},
		messages.KindPeekAnswer:        {on(h.peekAnswer)},
		messages.KindAcceptAnswer:      {on(h.acceptAnswer)},
		messages.KindRejectAnswer:      {on(h.rejectAnswer)},
		messages.KindGiveCat:           {on(h.giveCat)},

		messages.KindQuestionFinished:            {on(h.questionFinished)},
		messages.KindGameFinished:                {on(h.gameFinished)},
		messages.KindWaitingForLeadingTimeout:    {on(h.leadingTimeout)},
		messages.KindRegistrationTimeout:         {on(h.registrationTimeout)},
		messages.KindWaitingSelectionTimeout:     {on(h.selectionTimeout)},
		messages.KindWaitingPressTimeout:         {on(h.pressTimeout)},
		messages.KindWaitingForAnswerTimeout:     {on(h.answerTimeout)},
		messages.KindWaitingForCheckingTimeout:   {on(h.checkingTimeout)},
		messages.KindCatInBag:                    {on(h.catInBag)},
		messages.KindWaitingForCatCatcherTimeout: {on(h.catCatcherTimeout)},
	}
}

// followUp derives the update carried by a scheduled message: it points at
// messageID and no longer refers to the original button press.
func followUp(u messages.Update, messageID int64) messages.Update {
	u.CallbackID = ""
	u.MessageID = messageID
	return u
}

// withGame loads the chat's game, applies fn and commits. Any error from fn
// rolls the whole unit of work back.
func (h *GameHandlers) withGame(ctx context.Context, route messages.Route, fn func(*store.UnitOfWork, *models.Game) error) (*models.Game, error) {
	var game *models.Game
	err := h.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		g, err := uow.Games.Get(route.Origin, route.ChatID)
		if err != nil {
			return err
		}
		if err := fn(uow, g); err != nil {
			return err
		}
		game = g
		return nil
	})
	return game, err
}

func (h *GameHandlers) readGame(ctx context.Context, route messages.Route) (*models.Game, error) {
	uow, err := h.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer uow.Rollback()
	return uow.Games.Get(route.Origin, route.ChatID)
}

// AwaitsAnswer reports whether the chat's game is waiting for userID to answer.
// It reads without the chat lock, so the answer handler checks again.
func (h *GameHandlers) AwaitsAnswer(ctx context.Context, route messages.Route, userID int64) (bool, error) {
	g, err := h.readGame(ctx, route)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.ExpectsAnswerFrom(userID), nil
}

// skip swallows the expected outcomes of stale or racing updates: no game,
// a lost creation race, a transition that does not apply. The actor gets the
// reason when the update was a button press.
func (h *GameHandlers) skip(ctx context.Context, u messages.Update, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrDuplicateKey):
		return nil
	case models.IsPrecondition(err):
		h.ack(ctx, u, err.Error())
		return nil
	}
	return err
}

func (h *GameHandlers) bot(u messages.Update) bot.Messenger {
	return h.bots.For(u.Origin)
}

func (h *GameHandlers) ack(ctx context.Context, u messages.Update, text string) {
	if u.CallbackID == "" {
		return
	}
	if err := h.bot(u).Acknowledge(ctx, u.CallbackID, text); err != nil {
		log.Printf("[game] %s: acknowledge: %v", u.Route(), err)
	}
}

func (h *GameHandlers) send(ctx context.Context, u messages.Update, text string, kb bot.Keyboard) int64 {
	id, err := h.bot(u).Send(ctx, u.ChatID, text, kb)
	if err != nil {
		log.Printf("[game] %s: send: %v", u.Route(), err)
	}
	return id
}

func (h *GameHandlers) edit(ctx context.Context, u messages.Update, text string, kb bot.Keyboard) {
	if err := h.bot(u).Edit(ctx, u.ChatID, u.MessageID, text, kb); err != nil {
		log.Printf("[game] %s: edit message %d: %v", u.Route(), u.MessageID, err)
	}
}

// user resolves the acting user, preferring what the adapter sent along.
func (h *GameHandlers) user(ctx context.Context, u messages.Update) bot.User {
	if u.Name != "" || u.Username != "" {
		return bot.User{ID: u.UserID, Name: u.Name, Username: u.Username}
	}
	usr, err := h.bot(u).GetUser(ctx, u.ChatID, u.UserID)
	if err != nil {
		log.Printf("[game] %s: get user %d: %v", u.Route(), u.UserID, err)
		return bot.User{ID: u.UserID}
	}
	return usr
}

func (h *GameHandlers) postpone(ctx context.Context, msg messages.Message, delay time.Duration) {
	if err := h.bus.PostponePublish(ctx, msg, delay); err != nil {
		log.Printf("[game] %s: postpone %s: %v", msg.Route(), msg.Kind(), err)
	}
}

func (h *GameHandlers) cancel(ctx context.Context, kind messages.Kind, route messages.Route) {
	if err := h.bus.Cancel(ctx, kind, route); err != nil {
		log.Printf("[game] %s: cancel %s: %v", route, kind, err)
	}
}

func (h *GameHandlers) cancelAll(ctx context.Context, route messages.Route) {
	if err := h.bus.CancelAll(ctx, route); err != nil {
		log.Printf("[game] %s: cancel pending: %v", route, err)
	}
}

func (h *GameHandlers) publishState(ctx context.Context, g *models.Game) {
	h.feed.Publish(ctx, NewSnapshot(g))
}

func (h *GameHandlers) dropState(ctx context.Context, route messages.Route) {
	h.feed.Drop(ctx, route)
}

func (h *GameHandlers) registrationKeyboard(g *models.Game) bot.Keyboard {
	return registrationKeyboard(len(g.Players), h.settings.MinPlayers, h.settings.maxPlayers(g.Origin))
}

func (h *GameHandlers) createGame(ctx context.Context, msg messages.Play) error {
	route := msg.Route()
	game := models.NewGame(route.Origin, route.ChatID)
	err := h.store.InTx(ctx, func(uow *store.UnitOfWork) error {
		return uow.Games.Add(game)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	log.Printf("[game] %s: created by user %d", route, msg.UserID)

	id := h.send(ctx, msg.Update, textNeedLeader, becomeLeadingKeyboard())
	h.postpone(ctx, messages.WaitingForLeadingTimeout{Update: followUp(msg.Update, id)}, h.settings.Timeouts.Leading)
	h.publishState(ctx, game)
	return nil
}

func (h *GameHandlers) cancelGame(ctx context.Context, msg messages.CancelGame) error {
	route := msg.Route()
	var standings []models.Player
	_, err := h.withGame(ctx, route, func(uow *store.UnitOfWork, g *models.Game) error {
		if !g.IsLeading(msg.UserID) {
			return models.ErrNotLeader
		}
		standings = g.Standings()
		g.Finish()
		return uow.Games.Delete(route.Origin, route.ChatID)
	})
	if errors.Is(err, store.ErrNotFound) {
		h.send(ctx, msg.Update, textNoGame, nil)
		return nil
	}
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	log.Printf("[game] %s: cancelled by host", route)

	h.cancelAll(ctx, route)
	h.send(ctx, msg.Update, textCancelled(standings), nil)
	h.dropState(ctx, route)
	return nil
}

func (h *GameHandlers) setLeading(ctx context.Context, msg messages.SetLeading) error {
	route := msg.Route()
	g, err := h.withGame(ctx, route, func(_ *store.UnitOfWork, g *models.Game) error {
		return g.SetLeading(msg.UserID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingForLeadingTimeout, route)
	h.ack(ctx, msg.Update, textYouAreLeader)
	h.edit(ctx, msg.Update, textLeaderFound(h.user(ctx, msg.Update).Mention()), nil)
	h.postpone(ctx, messages.StartRegistration{Update: followUp(msg.Update, msg.MessageID)}, h.settings.Timeouts.RegistrationStart)
	h.publishState(ctx, g)
	return nil
}

func (h *GameHandlers) startRegistration(ctx context.Context, msg messages.StartRegistration) error {
	g, err := h.readGame(ctx, msg.Route())
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	if g.State != models.StateRegistration {
		return nil
	}
	h.edit(ctx, msg.Update, textRegistration(g), h.registrationKeyboard(g))
	h.postpone(ctx, messages.RegistrationTimeout{Update: followUp(msg.Update, msg.MessageID)}, h.settings.Timeouts.Registration)
	return nil
}

func (h *GameHandlers) join(ctx context.Context, msg messages.Join) error {
	route := msg.Route()
	usr := h.user(ctx, msg.Update)
	player := models.Player{UserID: msg.UserID, Name: usr.Name, Username: usr.Username}
	limit := h.settings.maxPlayers(route.Origin)

	g, err := h.withGame(ctx, route, func(_ *store.UnitOfWork, g *models.Game) error {
		return g.Register(player, limit)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.ack(ctx, msg.Update, textJoined)
	h.edit(ctx, msg.Update, textRegistration(g), h.registrationKeyboard(g))
	h.publishState(ctx, g)

	if limit > 0 && len(g.Players) >= limit {
		if _, err := h.bus.ForcePublish(ctx, messages.KindRegistrationTimeout, route); err != nil {
			log.Printf("[game] %s: close full registration: %v", route, err)
		}
	}
	return nil
}

func (h *GameHandlers) cancelJoin(ctx context.Context, msg messages.CancelJoin) error {
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		return g.Unregister(msg.UserID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.ack(ctx, msg.Update, textLeft)
	h.edit(ctx, msg.Update, textRegistration(g), h.registrationKeyboard(g))
	h.publishState(ctx, g)
	return nil
}

func (h *GameHandlers) startGame(ctx context.Context, msg messages.StartGame) error {
	route := msg.Route()
	var first models.Player
	g, err := h.withGame(ctx, route, func(uow *store.UnitOfWork, g *models.Game) error {
		if g.State != models.StateRegistration {
			return models.ErrWrongState
		}
		pool, err := uow.Themes.List()
		if err != nil {
			return err
		}
		p, err := g.Start(msg.UserID, pool, h.settings.MinPlayers, h.rnd)
		if err != nil {
			return err
		}
		first = *p
		return nil
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	log.Printf("[game] %s: started with %d players", route, len(g.Players))

	h.cancel(ctx, messages.KindRegistrationTimeout, route)
	h.showBoard(ctx, msg.Update, g, textFirstPicker(userOf(first).Mention()))
	return nil
}

// showBoard turns the message u points at into the question board.
func (h *GameHandlers) showBoard(ctx context.Context, u messages.Update, g *models.Game, text string) {
	h.edit(ctx, u, text, boardKeyboard(g))
	h.postpone(ctx, messages.WaitingSelectionTimeout{Update: followUp(u, u.MessageID)}, h.settings.Timeouts.Selection)
	h.publishState(ctx, g)
}

// choose plays questionID for actor. The surprise roll happens before the id
// is recorded; when it hits and a spare theme exists the question is swapped.
func (h *GameHandlers) choose(uow *store.UnitOfWork, g *models.Game, actor int64, questionID uint) error {
	cat := g.IsCatInBag(h.rnd)
	if _, err := g.Select(actor, questionID); err != nil {
		return err
	}
	if !cat {
		return nil
	}
	pool, err := uow.Themes.List()
	if err != nil {
		return err
	}
	if _, err := g.GetCatFromBag(pool, h.rnd); err != nil && !errors.Is(err, models.ErrNoSpareTheme) {
		return err
	}
	return nil
}

func (h *GameHandlers) afterChoose(ctx context.Context, u messages.Update, g *models.Game, random bool) {
	h.publishState(ctx, g)
	if g.State == models.StateWaitingForCatCatcher {
		h.bus.Publish(messages.CatInBag{Update: followUp(u, u.MessageID)})
		return
	}
	text := textQuestion(g.CurrentQuestion)
	if random {
		text = textRandomQuestion(g.CurrentQuestion)
	}
	h.openQuestion(ctx, u, g, text)
}

func (h *GameHandlers) openQuestion(ctx context.Context, u messages.Update, g *models.Game, text string) {
	h.edit(ctx, u, text, pressKeyboard())
	window := g.CurrentQuestion.PressWindow(h.settings.Timeouts.Press)
	h.postpone(ctx, messages.WaitingPressTimeout{Update: followUp(u, u.MessageID)}, window)
}

func (h *GameHandlers) selectQuestion(ctx context.Context, msg messages.SelectQuestion) error {
	g, err := h.withGame(ctx, msg.Route(), func(uow *store.UnitOfWork, g *models.Game) error {
		return h.choose(uow, g, msg.UserID, msg.QuestionID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingSelectionTimeout, msg.Route())
	h.ack(ctx, msg.Update, "")
	h.afterChoose(ctx, msg.Update, g, false)
	return nil
}

func (h *GameHandlers) selectionTimeout(ctx context.Context, msg messages.WaitingSelectionTimeout) error {
	g, err := h.withGame(ctx, msg.Route(), func(uow *store.UnitOfWork, g *models.Game) error {
		if g.State != models.StateQuestionSelection || g.CurrentUserID == nil {
			return models.ErrWrongState
		}
		id, ok := g.RandomQuestion(h.rnd)
		if !ok {
			return models.ErrQuestionNotFound
		}
		return h.choose(uow, g, *g.CurrentUserID, id)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	h.afterChoose(ctx, msg.Update, g, true)
	return nil
}

func (h *GameHandlers) catInBag(ctx context.Context, msg messages.CatInBag) error {
	g, err := h.readGame(ctx, msg.Route())
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	if g.State != models.StateWaitingForCatCatcher || g.CurrentUserID == nil || g.CurrentQuestion == nil {
		return nil
	}
	picker := g.Player(*g.CurrentUserID)
	if picker == nil {
		return nil
	}
	h.edit(ctx, msg.Update, textCatInBag(userOf(*picker).Mention(), g.CurrentQuestion.Cost), catKeyboard(g.CatCandidates()))
	h.postpone(ctx, messages.WaitingForCatCatcherTimeout{Update: followUp(msg.Update, msg.MessageID)}, h.settings.Timeouts.CatCatcher)
	return nil
}

func (h *GameHandlers) giveCat(ctx context.Context, msg messages.GiveCat) error {
	var target models.Player
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		p, err := g.GiveCat(msg.UserID, msg.TargetUserID)
		if err != nil {
			return err
		}
		target = *p
		return g.WaitAnswerForCatInBag()
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingForCatCatcherTimeout, msg.Route())
	h.ack(ctx, msg.Update, "")
	h.catGiven(ctx, msg.Update, g, target, false)
	return nil
}

func (h *GameHandlers) catCatcherTimeout(ctx context.Context, msg messages.WaitingForCatCatcherTimeout) error {
	var target models.Player
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		if g.State != models.StateWaitingForCatCatcher || g.CurrentUserID == nil {
			return models.ErrWrongState
		}
		candidates := g.CatCandidates()
		if len(candidates) == 0 {
			return models.ErrInvalidCatTarget
		}
		pick := candidates[h.rnd.IntN(len(candidates))]
		p, err := g.GiveCat(*g.CurrentUserID, pick.UserID)
		if err != nil {
			return err
		}
		target = *p
		return g.WaitAnswerForCatInBag()
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	h.catGiven(ctx, msg.Update, g, target, true)
	return nil
}

func (h *GameHandlers) catGiven(ctx context.Context, u messages.Update, g *models.Game, target models.Player, random bool) {
	h.edit(ctx, u, textCatGiven(userOf(target).Mention(), g.CurrentQuestion, random), nil)
	h.postpone(ctx, messages.WaitingForAnswerTimeout{Update: followUp(u, u.MessageID)}, h.settings.Timeouts.Answer)
	h.publishState(ctx, g)
}

func (h *GameHandlers) pressButton(ctx context.Context, msg messages.PressButton) error {
	var p models.Player
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		pl, err := g.Press(msg.UserID)
		if err != nil {
			return err
		}
		p = *pl
		return nil
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingPressTimeout, msg.Route())
	h.ack(ctx, msg.Update, "")
	h.edit(ctx, msg.Update, textPressed(g.CurrentQuestion, userOf(p).Mention()), nil)
	h.postpone(ctx, messages.WaitingForAnswerTimeout{Update: followUp(msg.Update, msg.MessageID)}, h.settings.Timeouts.Answer)
	h.publishState(ctx, g)
	return nil
}

func (h *GameHandlers) answer(ctx context.Context, msg messages.Answer) error {
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		return g.Answer(msg.UserID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingForAnswerTimeout, msg.Route())
	id := h.send(ctx, msg.Update, textWhatSaysLeader, checkerKeyboard())
	h.postpone(ctx, messages.WaitingForCheckingTimeout{Update: followUp(msg.Update, id)}, h.settings.Timeouts.Checking)
	h.publishState(ctx, g)
	return nil
}

func (h *GameHandlers) peekAnswer(ctx context.Context, msg messages.PeekAnswer) error {
	g, err := h.readGame(ctx, msg.Route())
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	switch {
	case !g.IsChecking() || g.CurrentQuestion == nil:
		return h.skip(ctx, msg.Update, models.ErrWrongState)
	case !g.IsLeading(msg.UserID):
		return h.skip(ctx, msg.Update, models.ErrNotLeader)
	}
	h.ack(ctx, msg.Update, g.CurrentQuestion.Answer)
	return nil
}

func (h *GameHandlers) acceptAnswer(ctx context.Context, msg messages.AcceptAnswer) error {
	var p models.Player
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		pl, err := g.Accept(msg.UserID)
		if err != nil {
			return err
		}
		p = *pl
		return nil
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingForCheckingTimeout, msg.Route())
	h.ack(ctx, msg.Update, "")
	h.edit(ctx, msg.Update, textAccepted(userOf(p).Mention(), g.CurrentQuestion.Cost), nil)
	h.postpone(ctx, messages.QuestionFinished{Update: followUp(msg.Update, msg.MessageID)}, h.settings.Timeouts.QuestionFinished)
	h.publishState(ctx, g)
	return nil
}

func (h *GameHandlers) rejectAnswer(ctx context.Context, msg messages.RejectAnswer) error {
	var (
		p        models.Player
		reopened bool
	)
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		pl, re, err := g.Reject(msg.UserID)
		if err != nil {
			return err
		}
		p, reopened = *pl, re
		return nil
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	h.cancel(ctx, messages.KindWaitingForCheckingTimeout, msg.Route())
	h.ack(ctx, msg.Update, "")
	h.afterPenalty(ctx, msg.Update, g, textRejected(userOf(p).Mention(), g.CurrentQuestion, reopened), reopened)
	return nil
}

func (h *GameHandlers) answerTimeout(ctx context.Context, msg messages.WaitingForAnswerTimeout) error {
	var (
		p        models.Player
		reopened bool
	)
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		pl, re, err := g.TimeoutAnswer()
		if err != nil {
			return err
		}
		p, reopened = *pl, re
		return nil
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	h.afterPenalty(ctx, msg.Update, g, textAnswerTimeout(userOf(p).Mention(), g.CurrentQuestion, reopened), reopened)
	return nil
}

// afterPenalty either reopens the question for the remaining players or ends
// the round.
func (h *GameHandlers) afterPenalty(ctx context.Context, u messages.Update, g *models.Game, text string, reopened bool) {
	if reopened {
		h.edit(ctx, u, text, pressKeyboard())
		window := g.CurrentQuestion.PressWindow(h.settings.Timeouts.Press)
		h.postpone(ctx, messages.WaitingPressTimeout{Update: followUp(u, u.MessageID)}, window)
	} else {
		h.edit(ctx, u, text, nil)
		h.postpone(ctx, messages.QuestionFinished{Update: followUp(u, u.MessageID)}, h.settings.Timeouts.QuestionFinished)
	}
	h.publishState(ctx, g)
}

func (h *GameHandlers) pressTimeout(ctx context.Context, msg messages.WaitingPressTimeout) error {
	g, err := h.withGame(ctx, msg.Route(), func(_ *store.UnitOfWork, g *models.Game) error {
		return g.CloseQuestion()
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	h.edit(ctx, msg.Update, textNobodyPressed(g.CurrentQuestion), nil)
	h.postpone(ctx, messages.QuestionFinished{Update: followUp(msg.Update, msg.MessageID)}, h.settings.Timeouts.QuestionFinished)
	h.publishState(ctx, g)
	return nil
}

func (h *GameHandlers) checkingTimeout(ctx context.Context, msg messages.WaitingForCheckingTimeout) error {
	route := msg.Route()
	var standings []models.Player
	_, err := h.withGame(ctx, route, func(uow *store.UnitOfWork, g *models.Game) error {
		if !g.IsChecking() {
			return models.ErrWrongState
		}
		standings = g.Standings()
		g.Finish()
		return uow.Games.Delete(route.Origin, route.ChatID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	log.Printf("[game] %s: cancelled, host did not judge", route)

	h.cancelAll(ctx, route)
	h.edit(ctx, msg.Update, textLeaderGone(standings), nil)
	h.dropState(ctx, route)
	return nil
}

func (h *GameHandlers) questionFinished(ctx context.Context, msg messages.QuestionFinished) error {
	g, err := h.readGame(ctx, msg.Route())
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	if g.State != models.StateQuestionSelection || g.CurrentUserID == nil {
		return nil
	}
	if !g.AnyQuestions() {
		h.bus.Publish(messages.GameFinished{Update: followUp(msg.Update, msg.MessageID)})
		return nil
	}

	h.edit(ctx, msg.Update, textRating(g), nil)
	picker := bot.User{ID: *g.CurrentUserID}
	if p := g.Player(*g.CurrentUserID); p != nil {
		picker = userOf(*p)
	}
	id := h.send(ctx, msg.Update, textPick(picker.Mention()), boardKeyboard(g))
	h.postpone(ctx, messages.WaitingSelectionTimeout{Update: followUp(msg.Update, id)}, h.settings.Timeouts.Selection)
	return nil
}

func (h *GameHandlers) gameFinished(ctx context.Context, msg messages.GameFinished) error {
	route := msg.Route()
	var winners, standings []models.Player
	_, err := h.withGame(ctx, route, func(uow *store.UnitOfWork, g *models.Game) error {
		if g.State != models.StateQuestionSelection || g.AnyQuestions() {
			return models.ErrWrongState
		}
		standings = g.Standings()
		winners = g.Winners()
		g.Finish()
		return uow.Games.Delete(route.Origin, route.ChatID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	log.Printf("[game] %s: finished, %d winner(s)", route, len(winners))

	h.cancelAll(ctx, route)
	h.edit(ctx, msg.Update, textResults(winners, standings), nil)
	h.dropState(ctx, route)
	return nil
}

func (h *GameHandlers) leadingTimeout(ctx context.Context, msg messages.WaitingForLeadingTimeout) error {
	route := msg.Route()
	_, err := h.withGame(ctx, route, func(uow *store.UnitOfWork, g *models.Game) error {
		if g.State != models.StateWaitingForLeading {
			return models.ErrWrongState
		}
		g.Finish()
		return uow.Games.Delete(route.Origin, route.ChatID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}
	h.edit(ctx, msg.Update, textLeadingTimeout, nil)
	h.dropState(ctx, route)
	return nil
}

// registrationTimeout starts the game on the host's behalf when enough players
// registered, and cancels it otherwise.
func (h *GameHandlers) registrationTimeout(ctx context.Context, msg messages.RegistrationTimeout) error {
	route := msg.Route()
	var (
		started bool
		first   models.Player
	)
	g, err := h.withGame(ctx, route, func(uow *store.UnitOfWork, g *models.Game) error {
		if g.State != models.StateRegistration {
			return models.ErrWrongState
		}
		if g.LeadingUserID != nil && len(g.Players) >= max(1, h.settings.MinPlayers) {
			pool, err := uow.Themes.List()
			if err != nil {
				return err
			}
			p, err := g.Start(*g.LeadingUserID, pool, h.settings.MinPlayers, h.rnd)
			if err == nil {
				started, first = true, *p
				return nil
			}
			if !models.IsPrecondition(err) {
				return err
			}
		}
		g.Finish()
		return uow.Games.Delete(route.Origin, route.ChatID)
	})
	if err != nil {
		return h.skip(ctx, msg.Update, err)
	}

	if started {
		log.Printf("[game] %s: registration closed, started with %d players", route, len(g.Players))
		h.showBoard(ctx, msg.Update, g, textFirstPicker(userOf(first).Mention()))
		return nil
	}
	h.edit(ctx, msg.Update, textRegistrationLost, nil)
	h.dropState(ctx, route)
	return nil
}
