package constants

import (
	"os"
	"time"
)

const (
	Version = "0.3.0"

	DefaultHistoryToKeep      = 20
	DefaultLogRetentionDays   = 14
	DefaultProbeCooldown      = 30 * time.Minute
	DefaultProbeTimeout       = 10 * time.Second
	DefaultProbeInterval      = 5 * time.Minute
	DefaultDigestInterval     = 15 * time.Minute
	DefaultDigestTimeout      = 15 * time.Second
	DefaultDigestLogLines     = 20
	DefaultMessageLimit       = 4096
	DefaultMinFreeDisk        = "1GB"
	DefaultStepTimeout        = 30 * time.Minute
	DefaultNotifyTimeout      = 10 * time.Second
	DefaultTelegramAPIURL     = "https://api.telegram.org"
	DefaultProxyContainerName = "haproxy"

	// Environment variables
	EnvVarPrefix           = "SHIPYARD_"
	EnvVarDataDir          = "SHIPYARD_DATA_DIR"
	EnvVarConfigDir        = "SHIPYARD_CONFIG_DIR"
	EnvVarTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvVarTelegramChatIDs  = "TELEGRAM_CHAT_IDS"
	EnvVarAlertThrottleSec = "TELEGRAM_ALERT_THROTTLE_SECONDS"

	// File and directory names inside the data dir.
	DBFileName            = "shipyard.db"
	ThrottleFileName      = "alert-throttle.state"
	RevisionFileSuffix    = ".revision"
	BackupsDirName        = "backups"
	LocksDirName          = "locks"
	LogsDirName           = "logs"
	StateDirName          = "state"
	BackupManifestName    = "manifest.json"
	ConfigEnvFileName     = ".env"
	ConfigFileBaseName    = "shipyard"
	HAProxyConfigFileName = "haproxy.cfg"
)

// File and directory permissions
const (
	ModeFileSecret  os.FileMode = 0o600 // secrets: .env, keys, dumps
	ModeFileDefault os.FileMode = 0o644 // non-secret configs
	ModeFileExec    os.FileMode = 0o755 // scripts/binaries
	ModeDirPrivate  os.FileMode = 0o700 // private dirs
)

var SupportedConfigExtensions = []string{".yaml", ".yml", ".json", ".toml"}
