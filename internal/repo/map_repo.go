package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/genji-bot/internal/domain"
)

// InsertMapSubmission persists a confirmed submission atomically: the map
// row, its creators, guides, selected attributes, and the submission date
// used by the weekly quota.
func InsertMapSubmission(ctx context.Context, db *gorm.DB, sub *domain.MapSubmission, official bool, now time.Time) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := &domain.Map{
			Code:        sub.Code,
			Name:        sub.Name,
			Checkpoints: sub.Checkpoints,
			Description: sub.Description,
			Difficulty:  sub.Difficulty,
			Gold:        sub.Gold,
			Silver:      sub.Silver,
			Bronze:      sub.Bronze,
			Official:    official,
			CreatedAt:   now.UTC(),
		}
		if err := tx.Create(m).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}

		creators := make([]domain.MapCreator, 0, len(sub.Creators))
		for _, id := range sub.Creators {
			creators = append(creators, domain.MapCreator{MapCode: sub.Code, UserID: id})
		}
		if err := tx.Create(&creators).Error; err != nil {
			return err
		}

		if len(sub.GuideURLs) > 0 {
			guides := make([]domain.MapGuide, 0, len(sub.GuideURLs))
			for _, u := range sub.GuideURLs {
				guides = append(guides, domain.MapGuide{MapCode: sub.Code, URL: u})
			}
			if err := tx.Create(&guides).Error; err != nil {
				return err
			}
		}

		if attrs := mapAttributes(sub); len(attrs) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&attrs).Error; err != nil {
				return err
			}
		}

		return tx.Create(&domain.MapSubmissionDate{UserID: sub.Creator(), Date: now.UTC()}).Error
	})
}

// GetMap returns a map by code or ErrNotFound.
func GetMap(ctx context.Context, db *gorm.DB, code string) (*domain.Map, error) {
	var m domain.Map
	if err := db.WithContext(ctx).First(&m, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MapExists reports whether a map with code is stored.
func MapExists(ctx context.Context, db *gorm.DB, code string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Map{}).Where("code = ?", code).Count(&n).Error
	return n > 0, err
}

// SetMapArchived flips the archived flag for every listed code and returns
// the number of rows changed.
func SetMapArchived(ctx context.Context, db *gorm.DB, codes []string, archived bool) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.Map{}).
		Where("code IN ?", codes).
		Update("archived", archived)
	return res.RowsAffected, res.Error
}

// DeleteMap removes a map together with its playtest sessions, votes,
// completions, creators, guides and attributes.
func DeleteMap(ctx context.Context, db *gorm.DB, code string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		threads := tx.Model(&domain.Playtest{}).Select("thread_id").Where("map_code = ?", code)
		if err := tx.Where("thread_id IN (?)", threads).Delete(&domain.PlaytestVote{}).Error; err != nil {
			return err
		}
		for _, model := range []any{
			&domain.Playtest{}, &domain.Completion{}, &domain.MapCreator{},
			&domain.MapGuide{}, &domain.MapAttribute{},
		} {
			if err := tx.Where("map_code = ?", code).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("code = ?", code).Delete(&domain.Map{}).Error
	})
}

// InsertMapCreator adds a creator to a map; ErrDuplicate when already present.
func InsertMapCreator(ctx context.Context, db *gorm.DB, code string, userID int64) error {
	err := db.WithContext(ctx).Create(&domain.MapCreator{MapCode: code, UserID: userID}).Error
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// DeleteMapCreator removes a creator from a map; ErrNotFound when absent.
func DeleteMapCreator(ctx context.Context, db *gorm.DB, code string, userID int64) error {
	res := db.WithContext(ctx).Where("map_code = ? AND user_id = ?", code, userID).Delete(&domain.MapCreator{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMapCreators returns the creator ids of a map.
func ListMapCreators(ctx context.Context, db *gorm.DB, code string) ([]int64, error) {
	var ids []int64
	err := db.WithContext(ctx).Model(&domain.MapCreator{}).
		Where("map_code = ?", code).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// PublishMap marks a playtested map official. A non-empty difficulty
// replaces the submitted one.
func PublishMap(ctx context.Context, db *gorm.DB, code, difficulty string) error {
	updates := map[string]any{"official": true}
	if difficulty != "" {
		updates["difficulty"] = difficulty
	}
	res := db.WithContext(ctx).Model(&domain.Map{}).Where("code = ?", code).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceMapDetails overwrites the difficulty and the selected attributes
// of a stored map.
func ReplaceMapDetails(ctx context.Context, db *gorm.DB, sub *domain.MapSubmission) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Map{}).Where("code = ?", sub.Code).Update("difficulty", sub.Difficulty)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Where("map_code = ?", sub.Code).Delete(&domain.MapAttribute{}).Error; err != nil {
			return err
		}
		attrs := mapAttributes(sub)
		if len(attrs) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&attrs).Error
	})
}

// GetMapSubmission rebuilds the submission of a stored map, including its
// creators, guides and attributes.
func GetMapSubmission(ctx context.Context, db *gorm.DB, code string) (*domain.MapSubmission, error) {
	m, err := GetMap(ctx, db, code)
	if err != nil {
		return nil, err
	}
	sub := &domain.MapSubmission{
		Code:        m.Code,
		Name:        m.Name,
		Checkpoints: m.Checkpoints,
		Description: m.Description,
		Gold:        m.Gold,
		Silver:      m.Silver,
		Bronze:      m.Bronze,
		Difficulty:  m.Difficulty,
	}
	if sub.Creators, err = ListMapCreators(ctx, db, code); err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&domain.MapGuide{}).
		Where("map_code = ?", code).Order("id").
		Pluck("url", &sub.GuideURLs).Error; err != nil {
		return nil, err
	}
	var attrs []domain.MapAttribute
	if err := db.WithContext(ctx).Where("map_code = ?", code).Order("kind, value").Find(&attrs).Error; err != nil {
		return nil, err
	}
	for _, a := range attrs {
		switch a.Kind {
		case domain.AttributeMapType:
			sub.MapTypes = append(sub.MapTypes, a.Value)
		case domain.AttributeMechanic:
			sub.Mechanics = append(sub.Mechanics, a.Value)
		case domain.AttributeRestriction:
			sub.Restrictions = append(sub.Restrictions, a.Value)
		}
	}
	return sub, nil
}

func mapAttributes(sub *domain.MapSubmission) []domain.MapAttribute {
	var attrs []domain.MapAttribute
	add := func(kind string, values []string) {
		for _, v := range values {
			attrs = append(attrs, domain.MapAttribute{MapCode: sub.Code, Kind: kind, Value: v})
		}
	}
	add(domain.AttributeMapType, sub.MapTypes)
	add(domain.AttributeMechanic, sub.Mechanics)
	add(domain.AttributeRestriction, sub.Restrictions)
	return attrs
}
