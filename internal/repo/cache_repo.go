package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/genji-bot/internal/domain"
)

// MapRow is the cache projection of a map: its code, creators and
// archived flag.
type MapRow struct {
	Code     string
	Archived bool
	UserIDs  []int64
}

// LoadUsers returns every known user with IsCreator derived from the
// map_creators table.
func LoadUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var rows []struct {
		UserID    int64
		Nickname  string
		Flags     domain.UserFlags
		CreatedAt time.Time
		IsCreator bool
	}
	err := db.WithContext(ctx).
		Table("users u").
		Select(`u.user_id, u.nickname, u.flags, u.created_at,
			EXISTS (SELECT 1 FROM map_creators mc WHERE mc.user_id = u.user_id) AS is_creator`).
		Order("u.user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.User{
			UserID:    r.UserID,
			Nickname:  r.Nickname,
			Flags:     r.Flags,
			CreatedAt: r.CreatedAt,
			IsCreator: r.IsCreator,
		})
	}
	return out, nil
}

// LoadMaps returns every map with its creators grouped in, in code order.
func LoadMaps(ctx context.Context, db *gorm.DB) ([]MapRow, error) {
	var maps []domain.Map
	if err := db.WithContext(ctx).Select("code", "archived").Order("code").Find(&maps).Error; err != nil {
		return nil, err
	}
	var creators []domain.MapCreator
	if err := db.WithContext(ctx).Order("map_code, user_id").Find(&creators).Error; err != nil {
		return nil, err
	}
	byCode := make(map[string][]int64, len(maps))
	for _, c := range creators {
		byCode[c.MapCode] = append(byCode[c.MapCode], c.UserID)
	}
	out := make([]MapRow, 0, len(maps))
	for _, m := range maps {
		out = append(out, MapRow{Code: m.Code, Archived: m.Archived, UserIDs: byCode[m.Code]})
	}
	return out, nil
}

// LoadStrings returns all values of one lookup kind, sorted.
func LoadStrings(ctx context.Context, db *gorm.DB, kind string) ([]string, error) {
	table, ok := domain.LookupTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown lookup kind %q", kind)
	}
	var out []string
	err := db.WithContext(ctx).Table(table).Order("value").Pluck("value", &out).Error
	return out, err
}

// InsertLookups adds values to a lookup table, skipping existing ones.
func InsertLookups(ctx context.Context, db *gorm.DB, kind string, values ...string) error {
	table, ok := domain.LookupTables[kind]
	if !ok {
		return fmt.Errorf("unknown lookup kind %q", kind)
	}
	if len(values) == 0 {
		return nil
	}
	rows := make([]domain.Lookup, 0, len(values))
	for _, v := range values {
		rows = append(rows, domain.Lookup{Value: v})
	}
	return db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// UpsertUser inserts a user if absent. It reports whether a row was created.
func UpsertUser(ctx context.Context, db *gorm.DB, userID int64, nickname string) (bool, error) {
	u := &domain.User{UserID: userID, Nickname: nickname, CreatedAt: time.Now().UTC()}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(u)
	return res.RowsAffected > 0, res.Error
}

// IsCreator reports whether the user is credited on any map.
func IsCreator(ctx context.Context, db *gorm.DB, userID int64) (bool, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.MapCreator{}).Where("user_id = ?", userID).Count(&n).Error
	return n > 0, err
}

// SetNickname stores a member's nickname, inserting the user if absent.
func SetNickname(ctx context.Context, db *gorm.DB, userID int64, nickname string) error {
	u := &domain.User{UserID: userID, Nickname: nickname, CreatedAt: time.Now().UTC()}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"nickname"}),
	}).Create(u).Error
}

// ToggleUserFlag flips flag on a stored user and returns the resulting
// flags. ErrNotFound when the user is unknown.
func ToggleUserFlag(ctx context.Context, db *gorm.DB, userID int64, flag domain.UserFlags) (domain.UserFlags, error) {
	var out domain.UserFlags
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		if err := tx.Select("user_id", "flags").First(&u, "user_id = ?", userID).Error; err != nil {
			return err
		}
		out = u.Flags.Toggle(flag)
		return tx.Model(&domain.User{}).Where("user_id = ?", userID).Update("flags", out).Error
	})
	return out, err
}
