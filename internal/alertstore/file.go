package alertstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// FileStore keeps delivered identifiers in a newline-delimited text file and
// tenants in a JSON file. Both survive hand edits; writes go through a temp
// file plus rename so a crash never leaves a half-written state file.
type FileStore struct {
	deliveredPath string
	tenantsPath   string
	log           logx.Logger
}

func NewFileStore(deliveredPath, tenantsPath string, log logx.Logger) *FileStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &FileStore{
		deliveredPath: deliveredPath,
		tenantsPath:   tenantsPath,
		log:           log,
	}
}

func (s *FileStore) LoadDelivered() (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	data, err := os.ReadFile(s.deliveredPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ids, nil
		}
		return nil, fmt.Errorf("read delivered file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ids[line] = struct{}{}
	}
	return ids, nil
}

func (s *FileStore) SaveDelivered(ids map[string]struct{}) error {
	lines := make([]string, 0, len(ids))
	for id := range ids {
		lines = append(lines, id)
	}
	sort.Strings(lines)
	body := strings.Join(lines, "\n")
	if body != "" {
		body += "\n"
	}
	return s.writeAtomic(s.deliveredPath, []byte(body))
}

func (s *FileStore) LoadTenants() (map[string]TenantConfig, error) {
	tenants := make(map[string]TenantConfig)
	data, err := os.ReadFile(s.tenantsPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tenants, nil
		}
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return tenants, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// A corrupt file must not stop the process; tenants re-register
		// via setup.
		s.log.Error("tenants file is corrupt, starting with empty registry",
			logx.String("path", s.tenantsPath),
			logx.Err(err))
		return tenants, nil
	}
	for guildID, msg := range raw {
		var tc TenantConfig
		if err := json.Unmarshal(msg, &tc); err != nil {
			s.log.Warn("skipping malformed tenant entry",
				logx.String("guild_id", guildID),
				logx.Err(err))
			continue
		}
		if strings.TrimSpace(tc.AlertChannelID) == "" {
			s.log.Warn("skipping tenant without alert channel",
				logx.String("guild_id", guildID))
			continue
		}
		tenants[guildID] = tc
	}
	return tenants, nil
}

func (s *FileStore) SaveTenants(tenants map[string]TenantConfig) error {
	data, err := json.MarshalIndent(tenants, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tenants: %w", err)
	}
	return s.writeAtomic(s.tenantsPath, append(data, '\n'))
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
