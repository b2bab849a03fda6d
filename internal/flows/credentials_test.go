package flows

import (
	"context"
	"errors"
	"testing"
)

var errTestBadCredentials = errors.New("invalid credentials")

type fakeHasher struct {
	verified  []string
	stale     bool
	hashErr   error
	updateErr error
	updated   string
	warnings  int
}

func (f *fakeHasher) deps() CredentialDeps {
	return CredentialDeps{
		UpgradeOnLogin: true,
		DummyHash:      "dummy",
		Verify: func(password, encoded string) (bool, error) {
			f.verified = append(f.verified, encoded)
			if encoded == "broken" {
				return false, errors.New("unsupported hash")
			}
			return encoded == "hash:"+password, nil
		},
		NeedsUpgrade: func(string) (bool, error) { return f.stale, nil },
		Hash: func(password string) (string, error) {
			if f.hashErr != nil {
				return "", f.hashErr
			}
			return "hash2:" + password, nil
		},
		UpdateHash: func(_ context.Context, _ string, hash string) error {
			if f.updateErr != nil {
				return f.updateErr
			}
			f.updated = hash
			return nil
		},
		Warn:   func(string, string, error) { f.warnings++ },
		Errors: CredentialErrors{InvalidCredentials: errTestBadCredentials},
	}
}

func TestRunCheckPasswordUnknownUserSpendsDummyVerify(t *testing.T) {
	f := &fakeHasher{}
	_, err := RunCheckPassword(context.Background(), PasswordCheck{}, "secret", f.deps())
	if !errors.Is(err, errTestBadCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if len(f.verified) != 1 || f.verified[0] != "dummy" {
		t.Fatalf("expected one dummy verify, got %v", f.verified)
	}
}

func TestRunCheckPasswordOutcomes(t *testing.T) {
	ctx := context.Background()

	f := &fakeHasher{}
	if _, err := RunCheckPassword(ctx, PasswordCheck{Found: true, UserID: "u1", PasswordHash: "hash:right"}, "wrong", f.deps()); !errors.Is(err, errTestBadCredentials) {
		t.Fatalf("expected invalid credentials for wrong password, got %v", err)
	}

	f = &fakeHasher{}
	if _, err := RunCheckPassword(ctx, PasswordCheck{Found: true, UserID: "u1", PasswordHash: "broken"}, "x", f.deps()); !errors.Is(err, errTestBadCredentials) {
		t.Fatalf("expected invalid credentials for unreadable hash, got %v", err)
	}
	if f.warnings != 1 {
		t.Fatalf("expected unreadable hash to be logged, got %d warnings", f.warnings)
	}

	f = &fakeHasher{}
	upgraded, err := RunCheckPassword(ctx, PasswordCheck{Found: true, UserID: "u1", PasswordHash: "hash:right"}, "right", f.deps())
	if err != nil || upgraded {
		t.Fatalf("expected plain success, got upgraded=%v err=%v", upgraded, err)
	}
}

func TestRunCheckPasswordUpgradesStaleHash(t *testing.T) {
	f := &fakeHasher{stale: true}
	upgraded, err := RunCheckPassword(context.Background(), PasswordCheck{Found: true, UserID: "u1", PasswordHash: "hash:right"}, "right", f.deps())
	if err != nil || !upgraded {
		t.Fatalf("expected upgrade, got upgraded=%v err=%v", upgraded, err)
	}
	if f.updated != "hash2:right" {
		t.Fatalf("unexpected stored hash %q", f.updated)
	}
}

func TestRunCheckPasswordUpgradeFailureIsBestEffort(t *testing.T) {
	f := &fakeHasher{stale: true, updateErr: errors.New("db down")}
	upgraded, err := RunCheckPassword(context.Background(), PasswordCheck{Found: true, UserID: "u1", PasswordHash: "hash:right"}, "right", f.deps())
	if err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
	if upgraded || f.warnings != 1 {
		t.Fatalf("expected no upgrade and one warning, got upgraded=%v warnings=%d", upgraded, f.warnings)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ana@Example.COM \n"); got != "ana@example.com" {
		t.Fatalf("unexpected %q", got)
	}
}
