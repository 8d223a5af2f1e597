package main

import (
	"context"
	"errors"
	"sync"

	authcore "github.com/govportal/authcore"
)

var errUserNotFound = errors.New("user not found")

// memoryProvider is an in-memory UserProvider for demo mode. A real
// deployment implements the interface over the portal's user database.
type memoryProvider struct {
	mu         sync.RWMutex
	byID       map[string]authcore.UserRecord
	byUsername map[string]string
	history    map[string][]authcore.LoginRecord
	totp       map[string]*authcore.TOTPRecord
	backup     map[string][]authcore.BackupCodeRecord
}

func newMemoryProvider() *memoryProvider {
	return &memoryProvider{
		byID:       make(map[string]authcore.UserRecord),
		byUsername: make(map[string]string),
		history:    make(map[string][]authcore.LoginRecord),
		totp:       make(map[string]*authcore.TOTPRecord),
		backup:     make(map[string][]authcore.BackupCodeRecord),
	}
}

func (p *memoryProvider) putUser(u authcore.UserRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[u.UserID] = u
	p.byUsername[u.Username] = u.UserID
}

func (p *memoryProvider) GetUserByUsername(_ context.Context, username string) (authcore.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.byUsername[username]
	if !ok {
		return authcore.UserRecord{}, errUserNotFound
	}
	return p.byID[id], nil
}

func (p *memoryProvider) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[userID]
	if !ok {
		return authcore.UserRecord{}, errUserNotFound
	}
	return u, nil
}

func (p *memoryProvider) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return errUserNotFound
	}
	u.PasswordHash = newHash
	p.byID[userID] = u
	return nil
}

func (p *memoryProvider) RecordLogin(_ context.Context, userID string, rec authcore.LoginRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[userID] = append([]authcore.LoginRecord{rec}, p.history[userID]...)
	return nil
}

func (p *memoryProvider) RecentLogins(_ context.Context, userID string, limit int) ([]authcore.LoginRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	recs := p.history[userID]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	out := make([]authcore.LoginRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (p *memoryProvider) GetTOTPSecret(_ context.Context, userID string) (*authcore.TOTPRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.totp[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (p *memoryProvider) EnableTOTP(_ context.Context, userID, secret string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totp[userID] = &authcore.TOTPRecord{Secret: secret, Enabled: true}
	return nil
}

func (p *memoryProvider) MarkTOTPVerified(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.totp[userID]
	if !ok {
		return errUserNotFound
	}
	rec.Verified = true
	if u, ok := p.byID[userID]; ok {
		u.TOTPEnabled = true
		p.byID[userID] = u
	}
	return nil
}

func (p *memoryProvider) DisableTOTP(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.totp, userID)
	if u, ok := p.byID[userID]; ok {
		u.TOTPEnabled = false
		p.byID[userID] = u
	}
	return nil
}

func (p *memoryProvider) ReplaceBackupCodes(_ context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backup[userID] = append([]authcore.BackupCodeRecord(nil), codes...)
	return nil
}

func (p *memoryProvider) ConsumeBackupCode(_ context.Context, userID string, hash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	codes := p.backup[userID]
	for i, c := range codes {
		if c.Hash == hash {
			p.backup[userID] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
