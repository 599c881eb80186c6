package store

import (
	"owngame/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GameRepository struct {
	uow *UnitOfWork
}

// Add inserts a new game. A game already running in the chat yields
// ErrDuplicateKey.
func (r *GameRepository) Add(g *models.Game) error {
	if err := r.uow.tx.Omit(clause.Associations).Create(g).Error; err != nil {
		return translate(err)
	}
	r.uow.track(g)
	return nil
}

// Get loads the whole aggregate. On postgres the game row stays locked until
// the unit of work ends.
func (r *GameRepository) Get(origin models.Origin, chatID int64) (*models.Game, error) {
	q := r.uow.tx.
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("players.id")
		}).
		Preload("Themes", func(db *gorm.DB) *gorm.DB {
			return db.Order("themes.id")
		}).
		Preload("Themes.Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.cost")
		}).
		Preload("CurrentQuestion")
	if r.uow.tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Table: clause.Table{Name: "games"}})
	}

	var g models.Game
	if err := q.Where("origin = ? AND chat_id = ?", origin, chatID).First(&g).Error; err != nil {
		return nil, translate(err)
	}
	r.uow.track(&g)
	return &g, nil
}

func (r *GameRepository) Delete(origin models.Origin, chatID int64) error {
	tx := r.uow.tx
	var g models.Game
	if err := tx.Select("id").Where("origin = ? AND chat_id = ?", origin, chatID).First(&g).Error; err != nil {
		return translate(err)
	}
	if err := tx.Where("game_id = ?", g.ID).Delete(&models.Player{}).Error; err != nil {
		return translate(err)
	}
	if err := tx.Exec("DELETE FROM game_themes WHERE game_id = ?", g.ID).Error; err != nil {
		return translate(err)
	}
	if err := tx.Delete(&models.Game{}, g.ID).Error; err != nil {
		return translate(err)
	}
	r.uow.untrack(origin, chatID)
	return nil
}

func (r *GameRepository) List() ([]models.Game, error) {
	var games []models.Game
	err := r.uow.tx.
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("players.id")
		}).
		Order("id").
		Find(&games).Error
	return games, translate(err)
}

func (r *GameRepository) flush(g *models.Game) error {
	tx := r.uow.tx
	if err := tx.Omit(clause.Associations).Save(g).Error; err != nil {
		return translate(err)
	}

	keep := make([]uint, 0, len(g.Players))
	for i := range g.Players {
		p := &g.Players[i]
		p.GameID = g.ID
		if err := tx.Save(p).Error; err != nil {
			return translate(err)
		}
		keep = append(keep, p.ID)
	}
	// An empty NOT IN list matches nothing on some dialects.
	del := tx.Where("game_id = ?", g.ID)
	if len(keep) > 0 {
		del = del.Where("id NOT IN ?", keep)
	}
	if err := del.Delete(&models.Player{}).Error; err != nil {
		return translate(err)
	}

	if err := tx.Exec("DELETE FROM game_themes WHERE game_id = ?", g.ID).Error; err != nil {
		return translate(err)
	}
	for _, t := range g.Themes {
		row := map[string]any{"game_id": g.ID, "theme_id": t.ID}
		if err := tx.Table("game_themes").Create(row).Error; err != nil {
			return translate(err)
		}
	}
	return nil
}

type PlayerRepository struct {
	tx *gorm.DB
}

func (r *PlayerRepository) Get(origin models.Origin, chatID, userID int64) (*models.Player, error) {
	var p models.Player
	err := r.tx.Where("origin = ? AND chat_id = ? AND user_id = ?", origin, chatID, userID).First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ThemeRepository reads the shared question bank. Add exists for the importer.
type ThemeRepository struct {
	tx *gorm.DB
}

func (r *ThemeRepository) List() ([]models.Theme, error) {
	var themes []models.Theme
	err := r.tx.
		Preload("Questions", func(db *gorm.DB) *gorm.DB {
			return db.Order("questions.cost")
		}).
		Where("available = ?", true).
		Order("id").
		Find(&themes).Error
	return themes, translate(err)
}

func (r *ThemeRepository) Add(t *models.Theme) error {
	return translate(r.tx.Create(t).Error)
}

func (r *ThemeRepository) Count() (int64, error) {
	var n int64
	err := r.tx.Model(&models.Theme{}).Count(&n).Error
	return n, translate(err)
}

type ScheduledEventRepository struct {
	tx *gorm.DB
}

func (r *ScheduledEventRepository) Add(e *models.ScheduledEvent) error {
	return translate(r.tx.Create(e).Error)
}

func (r *ScheduledEventRepository) List() ([]models.ScheduledEvent, error) {
	var events []models.ScheduledEvent
	err := r.tx.Order("created_at").Find(&events).Error
	return events, translate(err)
}

func (r *ScheduledEventRepository) ListFor(origin models.Origin, chatID int64) ([]models.ScheduledEvent, error) {
	var events []models.ScheduledEvent
	err := r.tx.Where("origin = ? AND chat_id = ?", origin, chatID).Order("created_at").Find(&events).Error
	return events, translate(err)
}

// Delete removes the pending rows for one key and reports how many there were.
func (r *ScheduledEventRepository) Delete(typeName string, origin models.Origin, chatID int64) (int64, error) {
	res := r.tx.Where("type_name = ? AND origin = ? AND chat_id = ?", typeName, origin, chatID).
		Delete(&models.ScheduledEvent{})
	return res.RowsAffected, translate(res.Error)
}

func (r *ScheduledEventRepository) DeleteRoute(origin models.Origin, chatID int64) (int64, error) {
	res := r.tx.Where("origin = ? AND chat_id = ?", origin, chatID).Delete(&models.ScheduledEvent{})
	return res.RowsAffected, translate(res.Error)
}

func (r *ScheduledEventRepository) DeleteByID(id string) error {
	return translate(r.tx.Delete(&models.ScheduledEvent{}, "id = ?", id).Error)
}

func (r *ScheduledEventRepository) Exists(id string) (bool, error) {
	var n int64
	err := r.tx.Model(&models.ScheduledEvent{}).Where("id = ?", id).Count(&n).Error
	return n > 0, translate(err)
}
