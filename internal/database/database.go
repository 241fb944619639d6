// Package database keeps the peer sighting journal and, when asked to, the
// node identity key in a local sqlite file.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const settingKeyNodePriv = "nodePriv"

// Setting is a key/value row.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// PeerSighting is the last thing this node saw of a remote peer.
type PeerSighting struct {
	ID         uint      `gorm:"primaryKey"`
	PeerID     string    `gorm:"uniqueIndex;not null"`
	RemoteIP   string    // from the last connection
	LastAddr   string    // from the last presence announcement
	Online     bool      `gorm:"index"`
	LastSeenAt time.Time `gorm:"index"`
}

type Store struct {
	db *gorm.DB
}

// Open creates or opens the sqlite file at path and migrates the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Setting{}, &PeerSighting{}); err != nil {
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	// Everything from a previous run is stale.
	if err := db.Model(&PeerSighting{}).Where("online = ?", true).Update("online", false).Error; err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}

func (s *Store) getSettingOrDefault(key, fallback string) (string, error) {
	var row Setting
	err := s.db.Where("key = ?", key).First(&row).Error
	if err == nil {
		return row.Value, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fallback, nil
	}
	return "", err
}

// LoadNodePrivateKey returns the stored base64 key, or "" when none is stored.
func (s *Store) LoadNodePrivateKey() (string, error) {
	return s.getSettingOrDefault(settingKeyNodePriv, "")
}

func (s *Store) SaveNodePrivateKey(nodePriv string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return upsertSetting(tx, settingKeyNodePriv, nodePriv)
	})
}

func (s *Store) MarkOnline(ctx context.Context, peerID, remoteIP string, at time.Time) error {
	row := PeerSighting{PeerID: peerID, RemoteIP: remoteIP, Online: true, LastSeenAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "peer_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"remote_ip":    row.RemoteIP,
			"online":       true,
			"last_seen_at": row.LastSeenAt,
		}),
	}).Create(&row).Error
}

// MarkOffline is a no-op for a peer that was never recorded.
func (s *Store) MarkOffline(ctx context.Context, peerID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&PeerSighting{}).
		Where("peer_id = ?", peerID).
		Updates(map[string]interface{}{"online": false, "last_seen_at": at}).Error
}

// RecordAnnouncement stores the latest announced address. It does not touch
// the online flag: an announcement is not a connection.
func (s *Store) RecordAnnouncement(ctx context.Context, peerID, addr string, at time.Time) error {
	row := PeerSighting{PeerID: peerID, LastAddr: addr, LastSeenAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "peer_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_addr":    row.LastAddr,
			"last_seen_at": row.LastSeenAt,
		}),
	}).Create(&row).Error
}

// Sighting returns gorm.ErrRecordNotFound for an unknown peer.
func (s *Store) Sighting(ctx context.Context, peerID string) (PeerSighting, error) {
	var row PeerSighting
	err := s.db.WithContext(ctx).Where("peer_id = ?", peerID).First(&row).Error
	return row, err
}

// Sightings lists every recorded peer, most recently seen first.
func (s *Store) Sightings(ctx context.Context) ([]PeerSighting, error) {
	var rows []PeerSighting
	err := s.db.WithContext(ctx).Order("last_seen_at desc").Find(&rows).Error
	return rows, err
}
