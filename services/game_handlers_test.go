package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"owngame/bot"
	"owngame/messages"
	"owngame/models"
	"owngame/store"

	"gorm.io/datatypes"
)

const (
	testChat   int64 = 7
	testLeader int64 = 1
)

type gameFixture struct {
	t        *testing.T
	store    *store.Store
	bus      *fakeBus
	recorder *bot.Recorder
	handlers *GameHandlers
	routes   Routes
}

func newGameFixture(t *testing.T, maxPlayers int) *gameFixture {
	t.Helper()
	st := newTestStore(t)
	seedThemes(t, st, 3)

	rec := bot.NewRecorder()
	proxy := bot.NewProxy(rec)
	bus := newFakeBus()
	settings := Settings{
		MinPlayers: 2,
		MaxPlayers: map[models.Origin]int{models.OriginTelegram: maxPlayers},
		Timeouts: Timeouts{
			Leading:           15 * time.Second,
			RegistrationStart: time.Second,
			Registration:      30 * time.Second,
			Selection:         20 * time.Second,
			Press:             15 * time.Second,
			Answer:            20 * time.Second,
			Checking:          15 * time.Second,
			CatCatcher:        15 * time.Second,
			QuestionFinished:  3 * time.Second,
		},
	}
	h := NewGameHandlers(st, bus, proxy, nil, settings, lastRand{})
	return &gameFixture{t: t, store: st, bus: bus, recorder: rec, handlers: h, routes: h.Routes()}
}

func update(userID int64, name string) messages.Update {
	return messages.Update{
		Origin:     models.OriginTelegram,
		ChatID:     testChat,
		UserID:     userID,
		MessageID:  100,
		CallbackID: "cb",
		Name:       name,
	}
}

func (f *gameFixture) handle(msg messages.Message) {
	f.t.Helper()
	for _, h := range f.routes[msg.Kind()] {
		if err := h.Handle(context.Background(), msg); err != nil {
			f.t.Fatalf("handle %s: %v", msg.Kind(), err)
		}
	}
}

// fire delivers the pending message of kind as if its timer went off.
func (f *gameFixture) fire(kind messages.Kind) {
	f.t.Helper()
	msg, ok := f.bus.pending(kind)
	if !ok {
		f.t.Fatalf("%s is not pending", kind)
	}
	f.bus.Cancel(context.Background(), kind, msg.Route())
	f.handle(msg)
}

func (f *gameFixture) game() *models.Game {
	f.t.Helper()
	uow, err := f.store.Begin(context.Background())
	if err != nil {
		f.t.Fatalf("begin: %v", err)
	}
	defer uow.Rollback()
	g, err := uow.Games.Get(models.OriginTelegram, testChat)
	if err != nil {
		f.t.Fatalf("get game: %v", err)
	}
	return g
}

func (f *gameFixture) gameGone() bool {
	f.t.Helper()
	uow, err := f.store.Begin(context.Background())
	if err != nil {
		f.t.Fatalf("begin: %v", err)
	}
	defer uow.Rollback()
	_, err = uow.Games.Get(models.OriginTelegram, testChat)
	return errors.Is(err, store.ErrNotFound)
}

func (f *gameFixture) assertState(want models.GameState) {
	f.t.Helper()
	if got := f.game().State; got != want {
		f.t.Fatalf("state = %v, want %v", got, want)
	}
}

func (f *gameFixture) assertPending(kinds ...messages.Kind) {
	f.t.Helper()
	for _, kind := range kinds {
		if _, ok := f.bus.pending(kind); !ok {
			f.t.Fatalf("%s is not pending", kind)
		}
	}
}

func (f *gameFixture) assertNotPending(kinds ...messages.Kind) {
	f.t.Helper()
	for _, kind := range kinds {
		if _, ok := f.bus.pending(kind); ok {
			f.t.Fatalf("%s is still pending", kind)
		}
	}
}

// registered plays the game up to a finished registration with players 2 and 3.
func (f *gameFixture) registered() {
	f.t.Helper()
	f.handle(messages.Play{Update: update(testLeader, "Host")})
	f.handle(messages.SetLeading{Update: update(testLeader, "Host")})
	f.fire(messages.KindStartRegistration)
	f.handle(messages.Join{Update: update(2, "Ann")})
	f.handle(messages.Join{Update: update(3, "Bob")})
}

// started continues into the first question selection.
func (f *gameFixture) started() *models.Game {
	f.t.Helper()
	f.registered()
	f.handle(messages.StartGame{Update: update(testLeader, "Host")})
	return f.game()
}

// pressed continues until player 2 holds the first question.
func (f *gameFixture) pressed() *models.Game {
	f.t.Helper()
	g := f.started()
	f.handle(messages.SelectQuestion{Update: update(*g.CurrentUserID, ""), QuestionID: g.Themes[0].Questions[0].ID})
	f.handle(messages.PressButton{Update: update(2, "Ann")})
	return f.game()
}

func TestGameRoundFlow(t *testing.T) {
	f := newGameFixture(t, 5)

	f.handle(messages.Play{Update: update(testLeader, "Host")})
	f.assertState(models.StateWaitingForLeading)
	f.assertPending(messages.KindWaitingForLeadingTimeout)
	if !f.recorder.Contains(textNeedLeader) {
		t.Fatalf("leader request was not sent")
	}

	f.handle(messages.SetLeading{Update: update(testLeader, "Host")})
	f.assertState(models.StateRegistration)
	f.assertNotPending(messages.KindWaitingForLeadingTimeout)
	f.assertPending(messages.KindStartRegistration)

	f.fire(messages.KindStartRegistration)
	f.assertPending(messages.KindRegistrationTimeout)

	f.handle(messages.Join{Update: update(2, "Ann")})
	f.handle(messages.Join{Update: update(3, "Bob")})
	if got := len(f.game().Players); got != 2 {
		t.Fatalf("players = %d, want 2", got)
	}

	f.handle(messages.StartGame{Update: update(testLeader, "Host")})
	g := f.game()
	if g.State != models.StateQuestionSelection {
		t.Fatalf("state = %v, want %v", g.State, models.StateQuestionSelection)
	}
	if len(g.Themes) != models.ThemesPerGame {
		t.Fatalf("themes = %d, want %d", len(g.Themes), models.ThemesPerGame)
	}
	f.assertNotPending(messages.KindRegistrationTimeout)
	f.assertPending(messages.KindWaitingSelectionTimeout)

	q := g.Themes[0].Questions[0]
	f.handle(messages.SelectQuestion{Update: update(*g.CurrentUserID, ""), QuestionID: q.ID})
	f.assertState(models.StateWaitingForPress)
	f.assertNotPending(messages.KindWaitingSelectionTimeout)
	f.assertPending(messages.KindWaitingPressTimeout)
	if d := f.bus.delays[messages.KindWaitingPressTimeout]; d != 15*time.Second {
		t.Fatalf("press window = %v, want %v", d, 15*time.Second)
	}

	f.handle(messages.PressButton{Update: update(2, "Ann")})
	f.assertState(models.StateWaitingForAnswer)
	f.assertNotPending(messages.KindWaitingPressTimeout)
	f.assertPending(messages.KindWaitingForAnswerTimeout)

	f.handle(messages.Answer{Update: update(2, "Ann"), Text: "anything"})
	f.assertState(models.StateWaitingForChecking)
	f.assertPending(messages.KindWaitingForCheckingTimeout)
	if !f.recorder.Contains(textWhatSaysLeader) {
		t.Fatalf("checker prompt was not sent")
	}

	f.handle(messages.AcceptAnswer{Update: update(testLeader, "Host")})
	g = f.game()
	if g.State != models.StateQuestionSelection {
		t.Fatalf("state = %v, want %v", g.State, models.StateQuestionSelection)
	}
	if p := g.Player(2); p == nil || p.Points != q.Cost {
		t.Fatalf("player 2 = %+v, want %d points", p, q.Cost)
	}
	if *g.CurrentUserID != 2 {
		t.Fatalf("current = %d, want 2", *g.CurrentUserID)
	}
	f.assertNotPending(messages.KindWaitingForCheckingTimeout)

	f.fire(messages.KindQuestionFinished)
	f.assertPending(messages.KindWaitingSelectionTimeout)
	if !f.recorder.Contains("Current standings") {
		t.Fatalf("standings were not rendered")
	}
}

func TestPlayTwiceKeepsOneGame(t *testing.T) {
	f := newGameFixture(t, 5)
	f.handle(messages.Play{Update: update(testLeader, "Host")})
	f.handle(messages.SetLeading{Update: update(testLeader, "Host")})
	f.handle(messages.Play{Update: update(9, "Other")})

	f.assertState(models.StateRegistration)
}

func TestStaleLeadingTimeoutIsIgnored(t *testing.T) {
	f := newGameFixture(t, 5)
	f.handle(messages.Play{Update: update(testLeader, "Host")})
	stale, _ := f.bus.pending(messages.KindWaitingForLeadingTimeout)
	f.handle(messages.SetLeading{Update: update(testLeader, "Host")})

	f.handle(stale)
	f.assertState(models.StateRegistration)
}

func TestLeadingTimeoutCancelsGame(t *testing.T) {
	f := newGameFixture(t, 5)
	f.handle(messages.Play{Update: update(testLeader, "Host")})
	f.fire(messages.KindWaitingForLeadingTimeout)

	if !f.gameGone() {
		t.Fatalf("game still exists after leading timeout")
	}
	if !f.recorder.Contains(textLeadingTimeout) {
		t.Fatalf("timeout notice was not rendered")
	}
}

func TestRegistrationTimeoutWithoutPlayers(t *testing.T) {
	f := newGameFixture(t, 5)
	f.handle(messages.Play{Update: update(testLeader, "Host")})
	f.handle(messages.SetLeading{Update: update(testLeader, "Host")})
	f.fire(messages.KindStartRegistration)
	f.handle(messages.Join{Update: update(2, "Ann")})

	f.fire(messages.KindRegistrationTimeout)
	if !f.gameGone() {
		t.Fatalf("game still exists with one player")
	}
	if !f.recorder.Contains(textRegistrationLost) {
		t.Fatalf("cancellation was not rendered")
	}
}

func TestRegistrationTimeoutStartsGame(t *testing.T) {
	f := newGameFixture(t, 5)
	f.registered()

	f.fire(messages.KindRegistrationTimeout)
	f.assertState(models.StateQuestionSelection)
	f.assertPending(messages.KindWaitingSelectionTimeout)
}

func TestFullRegistrationClosesEarly(t *testing.T) {
	f := newGameFixture(t, 2)
	f.registered()

	if len(f.bus.forced) != 1 || f.bus.forced[0] != messages.KindRegistrationTimeout {
		t.Fatalf("forced = %v, want [%s]", f.bus.forced, messages.KindRegistrationTimeout)
	}
	msg := f.bus.lastPublished()
	if msg == nil || msg.Kind() != messages.KindRegistrationTimeout {
		t.Fatalf("published = %v, want registration timeout", msg)
	}

	f.handle(messages.Join{Update: update(4, "Cid")})
	if got := len(f.game().Players); got != 2 {
		t.Fatalf("players = %d, want 2", got)
	}
}

func TestLeaderCannotJoin(t *testing.T) {
	f := newGameFixture(t, 5)
	f.handle(messages.Play{Update: update(testLeader, "Host")})
	f.handle(messages.SetLeading{Update: update(testLeader, "Host")})
	f.handle(messages.Join{Update: update(testLeader, "Host")})

	if got := len(f.game().Players); got != 0 {
		t.Fatalf("players = %d, want 0", got)
	}
	acked := false
	for _, c := range f.recorder.Calls() {
		if c.Method == "ack" && c.Text == models.ErrLeaderCannotPlay.Error() {
			acked = true
		}
	}
	if !acked {
		t.Fatalf("leader was not told why joining failed")
	}
}

func TestOnlyPickerSelects(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.started()
	other := int64(2)
	if *g.CurrentUserID == other {
		other = 3
	}

	f.handle(messages.SelectQuestion{Update: update(other, ""), QuestionID: g.Themes[0].Questions[0].ID})
	f.assertState(models.StateQuestionSelection)
	f.assertPending(messages.KindWaitingSelectionTimeout)
}

func TestSelectionTimeoutPicksQuestion(t *testing.T) {
	f := newGameFixture(t, 5)
	f.started()

	f.fire(messages.KindWaitingSelectionTimeout)
	g := f.game()
	if g.State != models.StateWaitingForPress {
		t.Fatalf("state = %v, want %v", g.State, models.StateWaitingForPress)
	}
	if len(g.SelectedQuestions) != 1 {
		t.Fatalf("selected = %v, want one question", g.SelectedQuestions)
	}
	if !f.recorder.Contains("chosen at random") {
		t.Fatalf("random pick was not announced")
	}
}

func TestRejectReopensThenCloses(t *testing.T) {
	f := newGameFixture(t, 5)
	f.pressed()
	f.handle(messages.Answer{Update: update(2, "Ann"), Text: "wrong"})

	f.handle(messages.RejectAnswer{Update: update(testLeader, "Host")})
	g := f.game()
	if g.State != models.StateWaitingForPress {
		t.Fatalf("state = %v, want %v", g.State, models.StateWaitingForPress)
	}
	if p := g.Player(2); p.Points != -g.CurrentQuestion.Cost || !p.AlreadyAnswered {
		t.Fatalf("player 2 = %+v, want penalty and answered", p)
	}
	f.assertPending(messages.KindWaitingPressTimeout)

	// A second press by the same player is refused.
	f.handle(messages.PressButton{Update: update(2, "Ann")})
	f.assertState(models.StateWaitingForPress)

	f.fire(messages.KindWaitingPressTimeout)
	f.assertState(models.StateQuestionSelection)
	f.assertPending(messages.KindQuestionFinished)
}

func TestAnswerTimeoutPenalizes(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.pressed()
	cost := g.CurrentQuestion.Cost

	f.fire(messages.KindWaitingForAnswerTimeout)
	g = f.game()
	if p := g.Player(2); p.Points != -cost {
		t.Fatalf("points = %d, want %d", p.Points, -cost)
	}
	if g.State != models.StateWaitingForPress {
		t.Fatalf("state = %v, want %v", g.State, models.StateWaitingForPress)
	}
}

func TestOnlyAnsweringPlayerAnswers(t *testing.T) {
	f := newGameFixture(t, 5)
	f.pressed()
	ctx := context.Background()
	route := update(2, "").Route()

	if ok, err := f.handlers.AwaitsAnswer(ctx, route, 2); err != nil || !ok {
		t.Fatalf("awaits answer from presser = %v, %v, want true", ok, err)
	}
	if ok, err := f.handlers.AwaitsAnswer(ctx, route, 3); err != nil || ok {
		t.Fatalf("awaits answer from bystander = %v, %v, want false", ok, err)
	}
	if ok, err := f.handlers.AwaitsAnswer(ctx, messages.Route{Origin: models.OriginVK, ChatID: 404}, 2); err != nil || ok {
		t.Fatalf("awaits answer without game = %v, %v, want false", ok, err)
	}

	f.handle(messages.Answer{Update: update(3, "Bob"), Text: "me"})
	f.assertState(models.StateWaitingForAnswer)
}

func TestPeekAnswerOnlyForLeader(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.pressed()
	f.handle(messages.Answer{Update: update(2, "Ann"), Text: "x"})

	f.handle(messages.PeekAnswer{Update: update(3, "Bob")})
	f.handle(messages.PeekAnswer{Update: update(testLeader, "Host")})

	var acks []string
	for _, c := range f.recorder.Calls() {
		if c.Method == "ack" {
			acks = append(acks, c.Text)
		}
	}
	last := acks[len(acks)-1]
	if last != g.CurrentQuestion.Answer {
		t.Fatalf("leader saw %q, want %q", last, g.CurrentQuestion.Answer)
	}
	if acks[len(acks)-2] != models.ErrNotLeader.Error() {
		t.Fatalf("player saw %q, want refusal", acks[len(acks)-2])
	}
	f.assertState(models.StateWaitingForChecking)
}

func TestCheckingTimeoutCancelsGame(t *testing.T) {
	f := newGameFixture(t, 5)
	f.pressed()
	f.handle(messages.Answer{Update: update(2, "Ann"), Text: "x"})

	f.fire(messages.KindWaitingForCheckingTimeout)
	if !f.gameGone() {
		t.Fatalf("game still exists after checking timeout")
	}
	if !f.recorder.Contains("host has left") {
		t.Fatalf("leader-gone notice was not rendered")
	}
}

func TestCancelGame(t *testing.T) {
	f := newGameFixture(t, 5)
	f.started()

	f.handle(messages.CancelGame{Update: update(2, "Ann")})
	if f.gameGone() {
		t.Fatalf("a player cancelled the game")
	}

	f.handle(messages.CancelGame{Update: update(testLeader, "Host")})
	if !f.gameGone() {
		t.Fatalf("game still exists after cancel")
	}
	f.assertNotPending(messages.KindWaitingSelectionTimeout)

	f.handle(messages.CancelGame{Update: update(testLeader, "Host")})
	if !f.recorder.Contains(textNoGame) {
		t.Fatalf("missing game was not reported")
	}
}

func TestLastQuestionFinishesGame(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.started()

	// Mark every board question but one as played, then play the last one.
	var ids []uint
	for _, th := range g.Themes {
		for _, q := range th.Questions {
			ids = append(ids, q.ID)
		}
	}
	last := ids[len(ids)-1]
	err := f.store.InTx(context.Background(), func(uow *store.UnitOfWork) error {
		g, err := uow.Games.Get(models.OriginTelegram, testChat)
		if err != nil {
			return err
		}
		g.SelectedQuestions = datatypes.JSONSlice[uint](ids[:len(ids)-1])
		g.CatTaken = true
		return nil
	})
	if err != nil {
		t.Fatalf("prepare board: %v", err)
	}

	f.handle(messages.SelectQuestion{Update: update(*g.CurrentUserID, ""), QuestionID: last})
	f.handle(messages.PressButton{Update: update(3, "Bob")})
	f.handle(messages.Answer{Update: update(3, "Bob"), Text: "x"})
	f.handle(messages.AcceptAnswer{Update: update(testLeader, "Host")})
	f.fire(messages.KindQuestionFinished)

	msg := f.bus.lastPublished()
	if msg == nil || msg.Kind() != messages.KindGameFinished {
		t.Fatalf("published = %v, want game finished", msg)
	}
	f.handle(msg)
	if !f.gameGone() {
		t.Fatalf("game still exists after the last question")
	}
	if !f.recorder.Contains("Bob") || !f.recorder.Contains("GAME OVER") {
		t.Fatalf("results were not rendered")
	}
}

func TestCatInBagFlow(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.started()

	// lastRand only hits the surprise roll when one question is left.
	var ids []uint
	for _, th := range g.Themes {
		for _, q := range th.Questions {
			ids = append(ids, q.ID)
		}
	}
	err := f.store.InTx(context.Background(), func(uow *store.UnitOfWork) error {
		g, err := uow.Games.Get(models.OriginTelegram, testChat)
		if err != nil {
			return err
		}
		g.SelectedQuestions = datatypes.JSONSlice[uint](ids[:models.MaxQuestions-1])
		return nil
	})
	if err != nil {
		t.Fatalf("prepare board: %v", err)
	}

	picker := *g.CurrentUserID
	f.handle(messages.SelectQuestion{Update: update(picker, ""), QuestionID: ids[len(ids)-1]})
	g = f.game()
	if g.State != models.StateWaitingForCatCatcher || !g.CatTaken {
		t.Fatalf("state = %v cat = %v, want cat catcher", g.State, g.CatTaken)
	}
	msg := f.bus.lastPublished()
	if msg == nil || msg.Kind() != messages.KindCatInBag {
		t.Fatalf("published = %v, want cat in bag", msg)
	}
	f.handle(msg)
	f.assertPending(messages.KindWaitingForCatCatcherTimeout)

	target := int64(2)
	if picker == target {
		target = 3
	}
	f.handle(messages.GiveCat{Update: update(picker, ""), TargetUserID: picker})
	f.assertState(models.StateWaitingForCatCatcher)

	f.handle(messages.GiveCat{Update: update(picker, ""), TargetUserID: target})
	g = f.game()
	if g.State != models.StateWaitingForCatInBagAnswer || g.AnsweringUserID == nil || *g.AnsweringUserID != target {
		t.Fatalf("state = %v answering = %v, want %d answering", g.State, g.AnsweringUserID, target)
	}
	f.assertNotPending(messages.KindWaitingForCatCatcherTimeout)
	f.assertPending(messages.KindWaitingForAnswerTimeout)

	f.handle(messages.Answer{Update: update(target, ""), Text: "x"})
	f.handle(messages.RejectAnswer{Update: update(testLeader, "Host")})
	g = f.game()
	if g.State != models.StateQuestionSelection {
		t.Fatalf("state = %v, want %v", g.State, models.StateQuestionSelection)
	}
	f.assertPending(messages.KindQuestionFinished)
}

func TestConcurrentPressesHaveOneWinner(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.started()
	f.handle(messages.SelectQuestion{Update: update(*g.CurrentUserID, ""), QuestionID: g.Themes[0].Questions[0].ID})

	d := NewDispatcher(f.routes, NewMemoryLocker(), 5*time.Second)
	var wg sync.WaitGroup
	for _, uid := range []int64{2, 3} {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			d.Dispatch(context.Background(), messages.PressButton{Update: update(uid, "")}, nil)
		}(uid)
	}
	wg.Wait()
	d.Wait()

	g = f.game()
	if g.State != models.StateWaitingForAnswer || g.AnsweringUserID == nil {
		t.Fatalf("state = %v answering = %v", g.State, g.AnsweringUserID)
	}
	pressed := 0
	for _, c := range f.recorder.Calls() {
		if strings.Contains(c.Text, "you were first") {
			pressed++
		}
	}
	if pressed != 1 {
		t.Fatalf("first-press notices = %d, want 1", pressed)
	}
}

func TestSnapshotHidesAnswer(t *testing.T) {
	f := newGameFixture(t, 5)
	g := f.pressed()

	snap := NewSnapshot(g)
	if snap.CurrentQuestion == nil || snap.CurrentQuestion.ID != g.CurrentQuestion.ID {
		t.Fatalf("current question = %+v", snap.CurrentQuestion)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), g.CurrentQuestion.Answer) {
		t.Fatalf("snapshot leaks the answer: %s", data)
	}
	if snap.Route() != (messages.Route{Origin: models.OriginTelegram, ChatID: testChat}) {
		t.Fatalf("route = %v", snap.Route())
	}
}
