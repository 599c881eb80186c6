package store

import (
	"fmt"

	"owngame/models"

	"gorm.io/gorm"
)

// UnitOfWork is one transaction. Games loaded or added through it are written
// back on Commit, so handlers mutate the aggregate and never call Save.
type UnitOfWork struct {
	tx   *gorm.DB
	done bool

	tracked []*models.Game

	Games           *GameRepository
	Players         *PlayerRepository
	Themes          *ThemeRepository
	ScheduledEvents *ScheduledEventRepository
}

func newUnitOfWork(tx *gorm.DB) *UnitOfWork {
	u := &UnitOfWork{tx: tx}
	u.Games = &GameRepository{uow: u}
	u.Players = &PlayerRepository{tx: tx}
	u.Themes = &ThemeRepository{tx: tx}
	u.ScheduledEvents = &ScheduledEventRepository{tx: tx}
	return u
}

func (u *UnitOfWork) track(g *models.Game) {
	for _, t := range u.tracked {
		if t == g {
			return
		}
	}
	u.tracked = append(u.tracked, g)
}

func (u *UnitOfWork) untrack(origin models.Origin, chatID int64) {
	kept := u.tracked[:0]
	for _, t := range u.tracked {
		if t.Origin != origin || t.ChatID != chatID {
			kept = append(kept, t)
		}
	}
	u.tracked = kept
}

func (u *UnitOfWork) Commit() error {
	if u.done {
		return fmt.Errorf("commit: unit of work already closed")
	}
	for _, g := range u.tracked {
		if err := u.Games.flush(g); err != nil {
			return fmt.Errorf("flush game %s/%d: %w", g.Origin, g.ChatID, err)
		}
	}
	if err := u.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	u.done = true
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (u *UnitOfWork) Rollback() {
	if u.done {
		return
	}
	u.done = true
	u.tx.Rollback()
}
