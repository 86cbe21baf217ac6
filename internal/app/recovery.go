package app

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"docuchat/pkg/domain"
)

const (
	recoveryCodeCount = 8
	recoveryCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateRecoveryCodes rotates the user's one-time backup codes and
// returns the new plaintext codes. Old codes are invalidated first, so a
// crash between the delete and the insert leaves the user with no codes
// rather than a stale set.
func (a *App) GenerateRecoveryCodes(user domain.User) ([]string, error) {
	if !a.limiter.Allow(user.ID) {
		return nil, ErrRateLimited
	}
	plaintexts := make([]string, recoveryCodeCount)
	codes := make([]domain.RecoveryCode, recoveryCodeCount)
	now := time.Now().UTC()
	// bcrypt at default cost takes tens of milliseconds per code, so the
	// batch is hashed concurrently.
	var g errgroup.Group
	for i := 0; i < recoveryCodeCount; i++ {
		g.Go(func() error {
			code, err := newRecoveryCode()
			if err != nil {
				return fmt.Errorf("generate code: %w", err)
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash code: %w", err)
			}
			plaintexts[i] = code
			codes[i] = domain.RecoveryCode{
				ID:        uuid.NewString(),
				UserID:    user.ID,
				CodeHash:  string(hash),
				CreatedAt: now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := a.store.DeleteRecoveryCodes(user.ID); err != nil {
		return nil, fmt.Errorf("invalidate old codes: %w", err)
	}
	if err := a.store.InsertRecoveryCodes(user.ID, codes); err != nil {
		return nil, fmt.Errorf("store codes: %w", err)
	}
	return plaintexts, nil
}

// VerifyRecoveryCode consumes a one-time backup code. A matching unused
// code is marked used; anything else returns ErrRecoveryCodeInvalid.
func (a *App) VerifyRecoveryCode(user domain.User, code string) error {
	code = normalizeRecoveryCode(code)
	if code == "" {
		return ErrRecoveryCodeInvalid
	}
	unused, err := a.store.ListUnusedRecoveryCodes(user.ID)
	if err != nil {
		return fmt.Errorf("load codes: %w", err)
	}
	for _, rc := range unused {
		if bcrypt.CompareHashAndPassword([]byte(rc.CodeHash), []byte(code)) == nil {
			if err := a.store.MarkRecoveryCodeUsed(user.ID, rc.ID, time.Now().UTC()); err != nil {
				return fmt.Errorf("consume code: %w", err)
			}
			return nil
		}
	}
	return ErrRecoveryCodeInvalid
}

// newRecoveryCode returns a code like "K7MP-29XA" from an alphabet with
// ambiguous characters removed.
func newRecoveryCode() (string, error) {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		if i == 4 {
			sb.WriteByte('-')
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(recoveryCodeChars))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(recoveryCodeChars[n.Int64()])
	}
	return sb.String(), nil
}

func normalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
