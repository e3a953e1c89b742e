// Package recovery versions the UCI configuration backing a location
// engine daemon, so an operator's edits to accuracy tier, distance
// filter, or seeded regions are recoverable after a bad change or a
// corrupted config file. This is config recoverability, not region
// state — the region set itself is derived at runtime, never persisted
// here.
package recovery

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/uci"
)

// Manager backs up and restores the "locengine" UCI package.
type Manager struct {
	config    Config
	logger    *logx.Logger
	uciClient *uci.UCI
	pkgName   string
	versions  []ConfigVersion
}

// Config holds recovery configuration.
type Config struct {
	Enable          bool   `uci:"enable" default:"true"`
	BackupDir       string `uci:"backup_dir" default:"/etc/locengine/backup"`
	MaxVersions     int    `uci:"max_versions" default:"10"`
	CompressBackups bool   `uci:"compress_backups" default:"true"`
}

// ConfigVersion is one backed-up configuration snapshot.
type ConfigVersion struct {
	Version     int       `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	Hash        string    `json:"hash"`
	Size        int64     `json:"size"`
	Compressed  bool      `json:"compressed"`
	Description string    `json:"description"`
	FilePath    string    `json:"file_path"`
}

// BackupResult is the outcome of a BackupConfig call.
type BackupResult struct {
	Success  bool
	Version  int
	Hash     string
	Size     int64
	Duration time.Duration
	FilePath string
}

// RestoreResult is the outcome of a RestoreConfig call.
type RestoreResult struct {
	Success         bool
	RestoredVersion int
	Duration        time.Duration
}

// NewManager creates a Manager rooted at pkgName's UCI package (e.g.
// "locengine"), ensuring the backup directory exists.
func NewManager(config Config, pkgName string, logger *logx.Logger) (*Manager, error) {
	if !config.Enable {
		return nil, fmt.Errorf("recovery is disabled")
	}
	if err := os.MkdirAll(config.BackupDir, 0750); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	m := &Manager{
		config:    config,
		logger:    logger,
		uciClient: uci.NewUCI(logger),
		pkgName:   pkgName,
	}
	if err := m.loadVersions(); err != nil {
		logger.Warn("failed to load existing backup versions", "error", err)
	}
	return m, nil
}

// BackupConfig snapshots the current UCI state to a new version file.
func (m *Manager) BackupConfig(ctx context.Context, description string) (*BackupResult, error) {
	start := time.Now()
	result := &BackupResult{Version: m.getNextVersion()}

	loader := uci.NewLoader("/etc/config/" + m.pkgName)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load current config: %w", err)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	hash := sha256.Sum256(data)
	result.Hash = hex.EncodeToString(hash[:])

	version := ConfigVersion{
		Version:     result.Version,
		Timestamp:   time.Now(),
		Hash:        result.Hash,
		Compressed:  m.config.CompressBackups,
		Description: description,
	}
	fileName := fmt.Sprintf("%s-config-v%d-%s.json", m.pkgName, result.Version, version.Timestamp.Format("20060102-150405"))
	if m.config.CompressBackups {
		fileName += ".gz"
	}
	filePath := filepath.Join(m.config.BackupDir, fileName)
	version.FilePath = filePath
	result.FilePath = filePath

	if err := m.writeBackupFile(filePath, data); err != nil {
		return nil, fmt.Errorf("write backup file: %w", err)
	}
	if stat, err := os.Stat(filePath); err == nil {
		result.Size = stat.Size()
		version.Size = stat.Size()
	}

	m.versions = append(m.versions, version)
	if err := m.cleanupOldVersions(); err != nil {
		m.logger.Warn("failed to clean up old versions", "error", err)
	}
	if err := m.saveVersions(); err != nil {
		m.logger.Warn("failed to save versions metadata", "error", err)
	}

	result.Success = true
	result.Duration = time.Since(start)
	m.logger.Info("configuration backup created", "version", result.Version, "hash", result.Hash[:12], "size", result.Size, "file", fileName)
	return result, nil
}

// RestoreConfig restores a specific backed-up version to UCI and
// commits it.
func (m *Manager) RestoreConfig(ctx context.Context, version int) (*RestoreResult, error) {
	start := time.Now()
	result := &RestoreResult{RestoredVersion: version}

	var target *ConfigVersion
	for i := range m.versions {
		if m.versions[i].Version == version {
			target = &m.versions[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("version %d not found", version)
	}

	data, err := m.readBackupFile(target.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read backup file: %w", err)
	}
	hash := sha256.Sum256(data)
	if hex.EncodeToString(hash[:]) != target.Hash {
		return nil, fmt.Errorf("backup file integrity check failed")
	}

	var cfg uci.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse backup config: %w", err)
	}

	if _, err := m.BackupConfig(ctx, "pre-restore-backup"); err != nil {
		m.logger.Warn("failed to create pre-restore backup", "error", err)
	}

	if err := m.uciClient.Save(ctx, m.pkgName, &cfg); err != nil {
		return nil, fmt.Errorf("write restored config: %w", err)
	}

	result.Success = true
	result.Duration = time.Since(start)
	m.logger.Info("configuration restored", "version", version, "hash", target.Hash[:12])
	return result, nil
}

// GetVersions returns a defensive copy of the known backup versions.
func (m *Manager) GetVersions() []ConfigVersion {
	versions := make([]ConfigVersion, len(m.versions))
	copy(versions, m.versions)
	return versions
}

func (m *Manager) getNextVersion() int {
	max := 0
	for _, v := range m.versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1
}

func (m *Manager) writeBackupFile(filePath string, data []byte) error {
	if m.config.CompressBackups {
		return m.writeCompressedFile(filePath, data)
	}
	return os.WriteFile(filePath, data, 0600)
}

func (m *Manager) writeCompressedFile(filePath string, data []byte) error {
	file, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := gzip.NewWriter(file)
	defer writer.Close()

	_, err = writer.Write(data)
	return err
}

func (m *Manager) readBackupFile(filePath string) ([]byte, error) {
	if filepath.Ext(filePath) == ".gz" {
		return m.readCompressedFile(filePath)
	}
	return os.ReadFile(filePath)
}

func (m *Manager) readCompressedFile(filePath string) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (m *Manager) cleanupOldVersions() error {
	if len(m.versions) <= m.config.MaxVersions {
		return nil
	}
	sort.Slice(m.versions, func(i, j int) bool {
		return m.versions[i].Timestamp.Before(m.versions[j].Timestamp)
	})
	toRemove := len(m.versions) - m.config.MaxVersions
	for i := 0; i < toRemove; i++ {
		if err := os.Remove(m.versions[i].FilePath); err != nil {
			m.logger.Warn("failed to remove old backup file", "file", m.versions[i].FilePath, "error", err)
		}
	}
	m.versions = m.versions[toRemove:]
	return nil
}

func (m *Manager) loadVersions() error {
	versionsFile := filepath.Join(m.config.BackupDir, "versions.json")
	data, err := os.ReadFile(versionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &m.versions)
}

func (m *Manager) saveVersions() error {
	versionsFile := filepath.Join(m.config.BackupDir, "versions.json")
	data, err := json.MarshalIndent(m.versions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(versionsFile, data, 0600)
}
