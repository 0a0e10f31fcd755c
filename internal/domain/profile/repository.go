package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("profile not found")
	ErrSessionNotFound = errors.New("session not found")
	// The handle is already registered to a different user id.
	ErrHandleTaken = errors.New("handle taken")
	// Client-local sessions were already imported for the user.
	ErrLegacyImported = errors.New("legacy sessions already imported")
)

// CompletionCounts are the inputs of the completion points formula.
type CompletionCounts struct {
	HasVerifiedIdentity bool
	FilledFieldCount    int
	LinkedAccountCount  int
}

// GrantResult is the outcome of the one-time bonus procedure.
type GrantResult struct {
	Granted        bool
	AlreadyGranted bool
	NewTotal       int
}

// PointsChange reports a total before and after an atomic update.
type PointsChange struct {
	OldTotal int
	NewTotal int
}

// MigrationStatus is the drift report used on login.
type MigrationStatus struct {
	NeedsMigration     bool
	MissingBonus       bool
	PointsInconsistent bool
}

// RecordOutcome is the result of the session recording transaction.
type RecordOutcome struct {
	Inserted bool
	Session  SessionRecord
	NewTotal int
}

// LegacyImport is the outcome of the one-time legacy import transaction.
type LegacyImport struct {
	Imported int
	Present  int
	NewTotal int
}

// Store is the authoritative remote store. Every mutating method runs as one
// transaction or a single statement.
type Store interface {
	LoadProfile(ctx context.Context, handle string) (*Profile, error)
	LoadProfileByID(ctx context.Context, userID int64) (*Profile, error)
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfileFields(ctx context.Context, p *Profile) error
	SetFoundingMember(ctx context.Context, userID int64, member bool) error

	GrantBonusOnce(ctx context.Context, userID int64, bonus int) (GrantResult, error)
	AddPoints(ctx context.Context, userID int64, delta int) (PointsChange, error)
	RecalculatePoints(ctx context.Context, userID int64) (PointsChange, error)
	UpdateCompletionPoints(ctx context.Context, userID int64, counts CompletionCounts) (PointsChange, error)
	// NeedsMigration reports drift for the user; member is the allow-list
	// decision, since the stored founding flag trails the bonus grant.
	NeedsMigration(ctx context.Context, userID int64, member bool) (MigrationStatus, error)
	MarkMigrationSeen(ctx context.Context, userID int64) error

	RecordSession(ctx context.Context, userID int64, rec SessionRecord, dedupWindow time.Duration) (RecordOutcome, error)
	// ImportLegacySessions inserts the records not already present by timestamp
	// and marks the import done, all in one transaction. It returns
	// ErrLegacyImported when an earlier import completed.
	ImportLegacySessions(ctx context.Context, userID int64, recs []SessionRecord) (LegacyImport, error)
	GetSession(ctx context.Context, userID int64, sessionID uuid.UUID) (*SessionRecord, error)
	ReplaceSessionScore(ctx context.Context, userID int64, sessionID uuid.UUID, answers []Answer, pointsEarned, humanScore int) (PointsChange, error)
	SessionTimestamps(ctx context.Context, userID int64, since time.Time) ([]time.Time, error)

	ListUserIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
	RecordAudit(ctx context.Context, entry AuditEntry) error
}

// Cache is the local read cache for profiles.
type Cache interface {
	Get(ctx context.Context, handle string) (*CacheEntry, error)
	Set(ctx context.Context, p *Profile, storedAt time.Time) error
	Invalidate(ctx context.Context, handle string) error
}

// CacheEntry is a cached profile with its write time.
type CacheEntry struct {
	Profile  *Profile  `json:"profile"`
	StoredAt time.Time `json:"stored_at"`
}

// IsStale reports whether the entry is too old to stand in for a remote read.
func (e *CacheEntry) IsStale(now time.Time, maxAge time.Duration) bool {
	if e == nil || e.Profile == nil {
		return true
	}
	return now.Sub(e.StoredAt) >= maxAge
}

// LegacySource holds client-local sessions recorded before the remote store
// became authoritative.
type LegacySource interface {
	Load(ctx context.Context, handle string) ([]LegacySession, error)
	Store(ctx context.Context, handle string, sessions []LegacySession) error
	Delete(ctx context.Context, handle string) error
}
