// Package auth reads and maintains the user directory kept in the YAML
// credentials file.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vanshika/umkhondo/internal/domain"
	"github.com/vanshika/umkhondo/internal/phone"
)

// ErrUserNotFound is returned for unknown usernames.
var ErrUserNotFound = errors.New("user not found")

type userEntry struct {
	Name        string `yaml:"name"`
	Email       string `yaml:"email,omitempty"`
	PhoneNumber string `yaml:"phone_number,omitempty"`
	Role        string `yaml:"role,omitempty"`
	Password    string `yaml:"password"`
}

type fileLayout struct {
	Credentials struct {
		Usernames map[string]userEntry `yaml:"usernames"`
	} `yaml:"credentials"`
	Cookie struct {
		ExpiryDays int    `yaml:"expiry_days"`
		Key        string `yaml:"key"`
		Name       string `yaml:"name"`
	} `yaml:"cookie"`
	Preauthorized struct {
		Emails []string `yaml:"emails"`
	} `yaml:"preauthorized"`
}

// FileDirectory is a user directory persisted as YAML. The file is read
// once at open and rewritten on every change.
type FileDirectory struct {
	path string

	mu     sync.RWMutex
	layout fileLayout
}

// Open loads path, creating it with a demo user when it does not exist.
func Open(path string) (*FileDirectory, error) {
	d := &FileDirectory{path: path}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.layout = defaultLayout()
		if err := d.save(); err != nil {
			return nil, err
		}
		return d, nil
	case err != nil:
		return nil, fmt.Errorf("read auth config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &d.layout); err != nil {
		return nil, fmt.Errorf("parse auth config %s: %w", path, err)
	}
	if d.layout.Credentials.Usernames == nil {
		d.layout.Credentials.Usernames = map[string]userEntry{}
	}
	return d, nil
}

func defaultLayout() fileLayout {
	var l fileLayout
	l.Credentials.Usernames = map[string]userEntry{
		"demo": {
			Name:        "Demo User",
			Email:       "demo@example.com",
			PhoneNumber: "254712345678",
		},
	}
	l.Cookie.ExpiryDays = 30
	l.Cookie.Key = "finance_tracker_auth"
	l.Cookie.Name = "finance_tracker_auth"
	l.Preauthorized.Emails = []string{}
	return l
}

// Register adds a user. It reports false when the username is taken.
func (d *FileDirectory) Register(_ context.Context, u domain.UserRecord) (bool, error) {
	username := strings.TrimSpace(u.Username)
	if username == "" {
		return false, errors.New("register user: username is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.layout.Credentials.Usernames[username]; exists {
		return false, nil
	}
	d.layout.Credentials.Usernames[username] = userEntry{
		Name:        u.Name,
		Email:       u.Email,
		PhoneNumber: u.PhoneNumber,
		Role:        u.Role,
		Password:    u.PasswordHash,
	}
	if err := d.save(); err != nil {
		delete(d.layout.Credentials.Usernames, username)
		return false, err
	}
	return true, nil
}

// User returns the stored record for username.
func (d *FileDirectory) User(_ context.Context, username string) (domain.UserRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.layout.Credentials.Usernames[username]
	if !ok {
		return domain.UserRecord{}, fmt.Errorf("%s: %w", username, ErrUserNotFound)
	}
	return toRecord(username, e), nil
}

// Users lists every user sorted by username.
func (d *FileDirectory) Users(context.Context) []domain.UserRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.UserRecord, 0, len(d.layout.Credentials.Usernames))
	for name, e := range d.layout.Credentials.Usernames {
		out = append(out, toRecord(name, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Phone implements phone.Directory. Unknown users have no phone.
func (d *FileDirectory) Phone(_ context.Context, username string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.layout.Credentials.Usernames[username]
	if !ok || strings.TrimSpace(e.PhoneNumber) == "" {
		return "", false, nil
	}
	return e.PhoneNumber, true, nil
}

// IsAdmin implements phone.Directory.
func (d *FileDirectory) IsAdmin(_ context.Context, username string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.layout.Credentials.Usernames[username]
	return ok && e.Role == domain.RoleAdmin, nil
}

// UsernameForPhone finds the user whose registered phone shares the
// subscriber digits of number. Ties resolve to the lowest username.
func (d *FileDirectory) UsernameForPhone(_ context.Context, number string) (string, bool) {
	if strings.TrimSpace(number) == "" {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.layout.Credentials.Usernames))
	for name := range d.layout.Credentials.Usernames {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		registered := d.layout.Credentials.Usernames[name].PhoneNumber
		if registered != "" && phone.SameSubscriber(registered, number) {
			return name, true
		}
	}
	return "", false
}

// save writes the layout through a temp file so readers never see a torn file.
func (d *FileDirectory) save() error {
	raw, err := yaml.Marshal(&d.layout)
	if err != nil {
		return fmt.Errorf("encode auth config: %w", err)
	}
	dir := filepath.Dir(d.path)
	tmp, err := os.CreateTemp(dir, ".auth-*.yaml")
	if err != nil {
		return fmt.Errorf("write auth config: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write auth config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write auth config: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write auth config: %w", err)
	}
	return nil
}

func toRecord(username string, e userEntry) domain.UserRecord {
	return domain.UserRecord{
		Username:     username,
		Name:         e.Name,
		Email:        e.Email,
		PhoneNumber:  e.PhoneNumber,
		Role:         e.Role,
		PasswordHash: e.Password,
	}
}
