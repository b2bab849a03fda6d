package flows

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"math/big"
	"strconv"
	"strings"
)

// BackupCodeAlphabet omits 0, 1, I and O.
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RunRegenerateBackupCodes re-verifies the password of an enrolled user and
// swaps the whole backup code set for a new one in a single store call.
func RunRegenerateBackupCodes(ctx context.Context, userID, password string, deps TwoFactorDeps) ([]string, error) {
	normalizeTwoFactorDeps(&deps)

	user, err := deps.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := deps.CheckPassword(ctx, user, password); err != nil {
		return nil, err
	}
	if !user.Enabled {
		return nil, deps.Errors.NotEnrolled
	}

	plain, hashes, err := generateBackupCodeSet(user.ID, deps)
	if err != nil {
		return nil, err
	}
	if err := deps.ReplaceBackupCodes(ctx, user.ID, hashes); err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.BackupCodeRegenerated)
	deps.EmitAudit(ctx, deps.Events.BackupCodesRegenerated, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(plain))}
	})
	return plain, nil
}

func runConsumeBackupCode(ctx context.Context, userID, canonical string, deps TwoFactorDeps) error {
	if len(canonical) != deps.BackupCodeLength {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, userID, "", deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"method": StepUpBackupCode}
		})
		return deps.Errors.InvalidCode
	}

	ok, err := deps.ConsumeBackupCode(ctx, userID, BackupCodeHash(userID, canonical))
	if err != nil {
		return err
	}
	if !ok {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.VerifyFailure, false, userID, "", deps.Errors.InvalidCode, func() map[string]string {
			return map[string]string{"method": StepUpBackupCode}
		})
		return deps.Errors.InvalidCode
	}

	deps.MetricInc(deps.Metrics.BackupCodeUsed)
	deps.EmitAudit(ctx, deps.Events.BackupCodeUsed, true, userID, "", nil, nil)
	return nil
}

// generateBackupCodeSet returns display-formatted plaintext codes and their
// stored hashes, index-aligned.
func generateBackupCodeSet(userID string, deps TwoFactorDeps) ([]string, [][32]byte, error) {
	count := deps.BackupCodeCount
	length := deps.BackupCodeLength
	if count <= 0 || length <= 0 {
		return nil, nil, deps.Errors.Unavailable
	}

	plain := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)
	seen := make(map[string]struct{}, count)
	for len(plain) < count {
		raw, err := NewBackupCode(length, deps.RandomIndex)
		if err != nil {
			return nil, nil, unavailable(deps.Errors.Unavailable, err)
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		plain = append(plain, FormatBackupCode(raw))
		hashes = append(hashes, BackupCodeHash(userID, raw))
	}
	return plain, hashes, nil
}

func NewBackupCode(length int, randomIndex func(int) (int, error)) (string, error) {
	if randomIndex == nil {
		randomIndex = cryptoRandomIndex
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(BackupCodeAlphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n])
	}
	return b.String(), nil
}

// FormatBackupCode splits a code in two halves joined by a dash, e.g.
// ABCDE-FGHJK.
func FormatBackupCode(code string) string {
	n := len(code)
	if n < 8 {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// CanonicalizeBackupCode upper-cases code and strips dashes and spaces.
func CanonicalizeBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// BackupCodeHash is sha256(userID || 0x00 || canonicalCode).
func BackupCodeHash(userID, canonicalCode string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(canonicalCode))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, canonicalCode...)
	return sha256.Sum256(data)
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
