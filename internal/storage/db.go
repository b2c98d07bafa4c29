package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Storage wraps the gorm handle backing every row-oriented subsystem:
// download tasks, app settings, instance records and the manifest
// fetch cache all share this one SQLite database.
type Storage struct {
	DB *gorm.DB
}

// NewStorage opens (creating if necessary) the daemon's SQLite database
// under the OS config directory and migrates every known table. Use
// NewStorageAt to pick an explicit runtime root instead (the
// --runtime-path flag).
func NewStorage() (*Storage, error) {
	appData, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return NewStorageAt(filepath.Join(appData, "Tachyon", "data"))
}

// NewStorageAt opens the daemon's SQLite database under the given data
// directory, creating it if necessary, and migrates every known table.
func NewStorageAt(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(dataDir, "tachyon.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL;")

	if err := db.AutoMigrate(
		&DownloadTask{},
		&DownloadLocation{},
		&DailyStat{},
		&AppSetting{},
		&SpeedTestHistory{},
		&ManifestCacheEntry{},
		&InstanceRecord{},
		&JavaRuntimeRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{DB: db}, nil
}

// Close releases the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Checkpoint forces a WAL checkpoint so data is durable before shutdown.
func (s *Storage) Checkpoint() error {
	return s.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE);").Error
}

// --- DownloadTask ---

func (s *Storage) SaveTask(task DownloadTask) error {
	return s.DB.Save(&task).Error
}

func (s *Storage) GetTask(id string) (DownloadTask, error) {
	var task DownloadTask
	err := s.DB.First(&task, "id = ?", id).Error
	return task, err
}

func (s *Storage) GetAllTasks() ([]DownloadTask, error) {
	var tasks []DownloadTask
	err := s.DB.Order("queue_order asc").Find(&tasks).Error
	return tasks, err
}

func (s *Storage) DeleteTask(id string) error {
	return s.DB.Delete(&DownloadTask{}, "id = ?", id).Error
}

// --- DownloadLocation ---

func (s *Storage) AddLocation(path, nickname string) error {
	loc := DownloadLocation{Path: path, Nickname: nickname}
	return s.DB.Save(&loc).Error
}

func (s *Storage) GetLocations() ([]DownloadLocation, error) {
	var locations []DownloadLocation
	err := s.DB.Find(&locations).Error
	return locations, err
}

// --- DailyStat ---

func (s *Storage) IncrementDailyBytes(n int64) error {
	return s.upsertDailyStat(func(d *DailyStat) { d.Bytes += n })
}

func (s *Storage) IncrementDailyFiles() error {
	return s.upsertDailyStat(func(d *DailyStat) { d.Files++ })
}

func (s *Storage) upsertDailyStat(mutate func(*DailyStat)) error {
	today := time.Now().Format("2006-01-02")
	var stat DailyStat
	err := s.DB.FirstOrCreate(&stat, DailyStat{Date: today}).Error
	if err != nil {
		return err
	}
	mutate(&stat)
	return s.DB.Save(&stat).Error
}

func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error
	return total, err
}

func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(files), 0)").Scan(&total).Error
	return total, err
}

func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	var stats []DailyStat
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02")
	err := s.DB.Where("date >= ?", cutoff).Order("date asc").Find(&stats).Error
	return stats, err
}

// --- AppSetting ---

func (s *Storage) SetString(key, value string) error {
	setting := AppSetting{Key: key, Value: value}
	return s.DB.Save(&setting).Error
}

func (s *Storage) GetString(key string) (string, error) {
	var setting AppSetting
	err := s.DB.First(&setting, "key = ?", key).Error
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

func (s *Storage) SetStringList(key string, values []string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return s.SetString(key, string(raw))
}

func (s *Storage) GetStringList(key string) ([]string, error) {
	raw, err := s.GetString(key)
	if err != nil || raw == "" {
		return nil, err
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// --- SpeedTestHistory ---

func (s *Storage) SaveSpeedTestResult(r SpeedTestHistory) error {
	return s.DB.Create(&r).Error
}

func (s *Storage) GetSpeedTestHistory(limit int) ([]SpeedTestHistory, error) {
	var results []SpeedTestHistory
	err := s.DB.Order("id desc").Limit(limit).Find(&results).Error
	return results, err
}

// --- ManifestCacheEntry ---

// GetManifestCacheEntry looks up a cached manifest fetch by its stable
// id, validating the cached content hash still matches sha1. A hash
// mismatch is treated as a cache miss so the caller re-fetches.
func (s *Storage) GetManifestCacheEntry(stableID, sha1 string) (ManifestCacheEntry, bool, error) {
	var entry ManifestCacheEntry
	err := s.DB.First(&entry, "stable_id = ?", stableID).Error
	if err == gorm.ErrRecordNotFound {
		return ManifestCacheEntry{}, false, nil
	}
	if err != nil {
		return ManifestCacheEntry{}, false, err
	}
	if entry.SHA1 != sha1 {
		return ManifestCacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (s *Storage) PutManifestCacheEntry(entry ManifestCacheEntry) error {
	return s.DB.Save(&entry).Error
}

// --- JavaRuntimeRecord ---

func (s *Storage) PutJavaRuntime(record JavaRuntimeRecord) error {
	return s.DB.Save(&record).Error
}

func (s *Storage) GetJavaRuntimes() ([]JavaRuntimeRecord, error) {
	var records []JavaRuntimeRecord
	err := s.DB.Find(&records).Error
	return records, err
}

// --- InstanceRecord ---

func (s *Storage) SaveInstance(record InstanceRecord) error {
	return s.DB.Save(&record).Error
}

func (s *Storage) GetInstance(id string) (InstanceRecord, error) {
	var record InstanceRecord
	err := s.DB.First(&record, "id = ?", id).Error
	return record, err
}

func (s *Storage) GetAllInstances() ([]InstanceRecord, error) {
	var records []InstanceRecord
	err := s.DB.Order("created_at asc").Find(&records).Error
	return records, err
}

func (s *Storage) DeleteInstance(id string, hard bool) error {
	if hard {
		return s.DB.Unscoped().Delete(&InstanceRecord{}, "id = ?", id).Error
	}
	return s.DB.Delete(&InstanceRecord{}, "id = ?", id).Error
}
