package creator

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetProfile(creatorID string) (*Profile, error) {
	var profile Profile
	if err := d.db.Where("creator_id = ?", creatorID).First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (d *Database) UpsertProfile(profile *Profile) error {
	return d.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "creator_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_account_id", "onboarding_complete", "payout_schedule",
			"payout_minimum_amount", "currency", "updated_at",
		}),
	}).Create(profile).Error
}

func (d *Database) UpdateProfile(profile *Profile) error {
	return d.db.Save(profile).Error
}

// SetBlocked flips the payout block flag. Blocking is also invoked by the
// debt tracker when outstanding debt crosses the threshold.
func (d *Database) SetBlocked(creatorID string, blocked bool, reason string) (int64, error) {
	result := d.db.Model(&Profile{}).
		Where("creator_id = ?", creatorID).
		Updates(map[string]interface{}{
			"payout_blocked": blocked,
			"block_reason":   reason,
			"updated_at":     time.Now(),
		})
	return result.RowsAffected, result.Error
}

// TouchAutoPayout stamps the last automatic payout trigger time.
func (d *Database) TouchAutoPayout(creatorID string, at time.Time) error {
	return d.db.Model(&Profile{}).
		Where("creator_id = ?", creatorID).
		Updates(map[string]interface{}{
			"last_auto_payout_at": at,
			"updated_at":          time.Now(),
		}).Error
}

// GetScheduledProfiles returns unblocked profiles on an automatic cadence.
func (d *Database) GetScheduledProfiles() ([]Profile, error) {
	var profiles []Profile
	if err := d.db.Where("payout_schedule IN ? AND payout_blocked = ?",
		[]string{ScheduleDaily, ScheduleWeekly}, false).
		Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}
