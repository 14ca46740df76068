package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"chronicle/config"

	"go.uber.org/zap"
)

// DataDirectories defines the paths that need to exist for Chronicle to run.
type DataDirectories struct {
	Base   string // Base data directory (default: ./data)
	SQLite string // SQLite database path
}

// DataDirectoriesFromConfig derives the data directories from a loaded config.
func DataDirectoriesFromConfig(cfg *config.Config) DataDirectories {
	return DataDirectories{
		Base:   cfg.GetDataDir(),
		SQLite: cfg.GetSQLitePath(),
	}
}

// EnsureDataDirectories creates the data directory and the database's parent
// directory and verifies they are writable. In-memory databases need neither.
func EnsureDataDirectories(dirs DataDirectories, sugar *zap.SugaredLogger) error {
	if dirs.SQLite == ":memory:" {
		return nil
	}

	toCreate := []string{dirs.Base}
	if parent := filepath.Dir(dirs.SQLite); parent != "" && parent != dirs.Base {
		toCreate = append(toCreate, parent)
	}

	for _, dir := range toCreate {
		absPath, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for %s: %w", dir, err)
		}

		if err := os.MkdirAll(absPath, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w\n"+
				"  Remediation: Ensure the parent directory exists and is writable\n"+
				"  For Docker: Check volume mount permissions\n"+
				"  For bare metal: Run 'mkdir -p %s && chmod 755 %s'", dir, err, absPath, absPath)
		}

		testFile := filepath.Join(absPath, ".chronicle_write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			return fmt.Errorf("directory %s is not writable: %w\n"+
				"  Remediation: Check file system permissions\n"+
				"  For bare metal: Run 'chmod -R u+w %s'", dir, err, absPath)
		}
		_ = os.Remove(testFile)

		sugar.Infow("Data directory ready", "path", absPath)
	}
	return nil
}

// ClassifyRedisError explains a failed connection to the shared role cache.
func ClassifyRedisError(err error, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to Redis at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  - Redis is overloaded\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", addr, addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			(opErr.Err != nil && containsIgnoreCase(opErr.Err.Error(), "connection refused")) {
			return fmt.Sprintf("Connection refused by Redis at %s.\n"+
				"  This usually means Redis is not running.\n"+
				"  Remediation:\n"+
				"  - Start Redis: docker compose up -d redis\n"+
				"  - Verify redis.addr in config.yaml\n"+
				"  - Or set redis.enabled: false to use the in-process cache only", addr)
		}
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in Redis address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Try using IP address (127.0.0.1) instead of hostname", addr)
	}

	if containsIgnoreCase(errStr, "NOAUTH") || containsIgnoreCase(errStr, "WRONGPASS") || containsIgnoreCase(errStr, "invalid password") {
		return fmt.Sprintf("Authentication failed for Redis at %s.\n"+
			"  Remediation:\n"+
			"  - Verify redis.password in config.yaml\n"+
			"  - Check the CHRONICLE_REDIS_PASSWORD env var", addr)
	}

	return fmt.Sprintf("Failed to connect to Redis at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure Redis is running and accessible\n"+
		"  - Check config.yaml redis.addr setting", addr, err)
}

// ClassifySQLiteError provides specific error messages based on the type of SQLite failure.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case containsIgnoreCase(errStr, "permission denied") || containsIgnoreCase(errStr, "access denied"):
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s\n"+
			"  - For Docker: Ensure volume is mounted with proper user permissions",
			absPath, absPath, parentDir)

	case containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY"):
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another running instance: ps aux | grep chronicle\n"+
			"  - Check for lock files: ls -la %s*", absPath, absPath)

	case containsIgnoreCase(errStr, "disk full") || containsIgnoreCase(errStr, "no space") || containsIgnoreCase(errStr, "SQLITE_FULL"):
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s\n"+
			"  - Free up disk space or move the data directory", absPath, parentDir)

	case containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed") || containsIgnoreCase(errStr, "SQLITE_CORRUPT"):
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Restore from backup, or re-import the rules file into a fresh database",
			absPath, absPath)

	case containsIgnoreCase(errStr, "no such file or directory") || containsIgnoreCase(errStr, "cannot find the path"):
		return fmt.Sprintf("Cannot create SQLite database - path does not exist: %s.\n"+
			"  Remediation:\n"+
			"  - Create the parent directory: mkdir -p %s\n"+
			"  - Verify the path in config or CHRONICLE_SQLITE_PATH env var",
			absPath, parentDir)

	case containsIgnoreCase(errStr, "read-only"):
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the database to a writable location via CHRONICLE_SQLITE_PATH", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable\n"+
		"  - Check disk space and permissions", absPath, err, parentDir)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
