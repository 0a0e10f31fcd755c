package profile

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the authenticated principal supplied by the identity provider.
type Identity struct {
	UserID      int64  `json:"user_id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}

// Valid reports whether the identity can address a profile.
func (i Identity) Valid() bool {
	return i.UserID != 0 && i.Handle != ""
}

// Source tells where a returned profile came from.
type Source string

const (
	SourceRemote  Source = "remote"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
	// The caller's own copy, returned when another save was in flight.
	SourceOptimistic Source = "optimistic"
)

// PersonalInfo holds optional, user-editable identity fields.
type PersonalInfo struct {
	IdentityVerified bool     `json:"identity_verified"`
	Bio              string   `json:"bio,omitempty"`
	Location         string   `json:"location,omitempty"`
	Occupation       string   `json:"occupation,omitempty"`
	Website          string   `json:"website,omitempty"`
	Interests        []string `json:"interests,omitempty"`
}

// LinkedAccounts holds external accounts connected to the profile.
type LinkedAccounts struct {
	Twitter   string `json:"twitter,omitempty"`
	GitHub    string `json:"github,omitempty"`
	Telegram  string `json:"telegram,omitempty"`
	TONWallet string `json:"ton_wallet,omitempty"`
}

// Answer is one question/answer pair kept with a session.
type Answer struct {
	QuestionID   string     `json:"question_id"`
	QuestionText string     `json:"question_text"`
	AnswerText   string     `json:"answer_text"`
	EditedAt     *time.Time `json:"edited_at,omitempty"`
}

// SessionRecord is one completed scoring session. PointsEarned is fixed at
// creation and only changes through an explicit answer edit.
type SessionRecord struct {
	ID                uuid.UUID `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	QuestionsAnswered int       `json:"questions_answered"`
	HumanScore        int       `json:"human_score"`
	PointsEarned      int       `json:"points_earned"`
	IsComplete        bool      `json:"is_complete"`
	// Nil for sessions recorded before answers were retained.
	Answers []Answer `json:"answers,omitempty"`
}

// Rescoreable reports whether the session kept its answers.
func (s SessionRecord) Rescoreable() bool {
	return len(s.Answers) > 0
}

// Profile is the per-user points and progress aggregate.
type Profile struct {
	UserID      int64  `json:"user_id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`

	// Derived from the allow-list on every read; never trusted from storage alone.
	IsFoundingMember bool `json:"is_founding_member"`
	BonusGranted     bool `json:"bonus_granted"`

	// Stored authoritative total.
	Points           int `json:"points"`
	BasePoints       int `json:"base_points"`
	CompletionPoints int `json:"completion_points"`

	PersonalInfo   PersonalInfo    `json:"personal_info"`
	LinkedAccounts LinkedAccounts  `json:"linked_accounts"`
	Sessions       []SessionRecord `json:"sessions"`

	HumanScore             int `json:"human_score"`
	TotalQuestionsAnswered int `json:"total_questions_answered"`

	HasOnboarded         bool `json:"has_onboarded"`
	HasSoulSeedOnboarded bool `json:"has_soul_seed_onboarded"`

	TrustScore   int `json:"trust_score"`
	TrustPenalty int `json:"trust_penalty"`

	MigrationSeenAt *time.Time `json:"migration_seen_at,omitempty"`
	// Set once client-local sessions have been imported; later imports are refused.
	LegacyImportedAt *time.Time `json:"legacy_imported_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so cached or published profiles cannot be mutated
// through shared slices.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.PersonalInfo.Interests != nil {
		c.PersonalInfo.Interests = append([]string(nil), p.PersonalInfo.Interests...)
	}
	if p.Sessions != nil {
		c.Sessions = make([]SessionRecord, len(p.Sessions))
		for i, s := range p.Sessions {
			c.Sessions[i] = s
			if s.Answers != nil {
				c.Sessions[i].Answers = append([]Answer(nil), s.Answers...)
			}
		}
	}
	if p.MigrationSeenAt != nil {
		t := *p.MigrationSeenAt
		c.MigrationSeenAt = &t
	}
	if p.LegacyImportedAt != nil {
		t := *p.LegacyImportedAt
		c.LegacyImportedAt = &t
	}
	return &c
}

// SessionByID returns the session with id, or nil.
func (p *Profile) SessionByID(id uuid.UUID) *SessionRecord {
	for i := range p.Sessions {
		if p.Sessions[i].ID == id {
			return &p.Sessions[i]
		}
	}
	return nil
}

// LegacySession is the pre-remote client record format imported once.
type LegacySession struct {
	Timestamp         time.Time `json:"timestamp"`
	QuestionsAnswered int       `json:"questionsAnswered"`
	HumanScore        int       `json:"humanScore"`
	PointsEarned      int       `json:"pointsEarned"`
}

// AuditEntry records one applied point correction.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Handle    string    `json:"handle"`
	Before    int       `json:"before"`
	After     int       `json:"after"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
