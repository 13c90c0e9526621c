package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	codeLength      = 6
	maxCodeLength   = 8
	codeAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxNicknameLen  = 50
	defaultPartyTTL = 12 * time.Hour
)

// NormalizeCode trims a join code and upper-cases it.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a normalized code is 1-8 characters of [A-Z0-9].
func ValidCode(code string) bool {
	if code == "" || len(code) > maxCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			return false
		}
	}
	return true
}

// GenerateCode returns a random six character join code.
func GenerateCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Participant is an anonymous session identity minted at join.
type Participant struct {
	ID       string    `json:"participant_id"`
	SurveyID uint      `json:"survey_id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// ParticipantRegistry keeps participant identities in redis under
// participant:<id>, expiring after ttl.
type ParticipantRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewParticipantRegistry(rdb *redis.Client, ttl time.Duration) *ParticipantRegistry {
	if ttl <= 0 {
		ttl = defaultPartyTTL
	}
	return &ParticipantRegistry{rdb: rdb, ttl: ttl}
}

func participantKey(id string) string {
	return "participant:" + id
}

func surveyParticipantsKey(surveyID uint) string {
	return fmt.Sprintf("survey:%d:participants", surveyID)
}

func (r *ParticipantRegistry) Register(ctx context.Context, p *Participant) error {
	key := participantKey(p.ID)
	members := surveyParticipantsKey(p.SurveyID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"survey_id", p.SurveyID,
			"nickname", p.Nickname,
			"joined_at", p.JoinedAt.Unix(),
		)
		pipe.Expire(ctx, key, r.ttl)
		pipe.SAdd(ctx, members, p.ID)
		pipe.Expire(ctx, members, r.ttl)
		return nil
	})
	if err != nil {
		return storageErr("register participant", err)
	}
	return nil
}

func (r *ParticipantRegistry) Lookup(ctx context.Context, id string) (*Participant, error) {
	vals, err := r.rdb.HGetAll(ctx, participantKey(id)).Result()
	if err != nil {
		return nil, storageErr("lookup participant", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("lookup participant %s: %w", id, ErrNotFound)
	}
	surveyID, err := strconv.ParseUint(vals["survey_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("lookup participant %s: %w: bad survey id", id, ErrStorageUnavailable)
	}
	joined, _ := strconv.ParseInt(vals["joined_at"], 10, 64)
	return &Participant{
		ID:       id,
		SurveyID: uint(surveyID),
		Nickname: vals["nickname"],
		JoinedAt: time.Unix(joined, 0),
	}, nil
}

func (r *ParticipantRegistry) Remove(ctx context.Context, p *Participant) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, participantKey(p.ID))
		pipe.SRem(ctx, surveyParticipantsKey(p.SurveyID), p.ID)
		return nil
	})
	return storageErr("remove participant", err)
}

// Count returns how many participants currently hold an identity for the survey.
func (r *ParticipantRegistry) Count(ctx context.Context, surveyID uint) (int64, error) {
	n, err := r.rdb.SCard(ctx, surveyParticipantsKey(surveyID)).Result()
	if err != nil {
		return 0, storageErr("count participants", err)
	}
	return n, nil
}

// JoinResult is returned to a participant who joined a survey.
type JoinResult struct {
	ParticipantID string `json:"participant_id"`
	SurveyID      uint   `json:"survey_id"`
	Title         string `json:"title"`
	Nickname      string `json:"nickname"`
}

// JoinCoordinator resolves join codes to active surveys and mints participant
// identities.
type JoinCoordinator struct {
	store     *SessionStore
	registry  *ParticipantRegistry
	lifecycle *LifecycleController
}

func NewJoinCoordinator(store *SessionStore, registry *ParticipantRegistry, lifecycle *LifecycleController) *JoinCoordinator {
	return &JoinCoordinator{store: store, registry: registry, lifecycle: lifecycle}
}

// Join admits a participant to the active survey holding code. Codes match case
// insensitively. Unknown codes and codes of inactive surveys both fail with
// ErrNotFound.
func (j *JoinCoordinator) Join(ctx context.Context, code, nickname string) (*JoinResult, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return nil, fmt.Errorf("join %q: %w", code, ErrNotFound)
	}
	nickname = strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > maxNicknameLen {
		return nil, fmt.Errorf("%w: nickname must be 1 to %d characters", ErrInvalidAnswer, maxNicknameLen)
	}

	// Holding the read side keeps a deactivation from slipping in between the
	// lookup and the registration.
	j.lifecycle.mu.RLock()
	defer j.lifecycle.mu.RUnlock()

	survey, err := j.store.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	p := &Participant{
		ID:       uuid.NewString(),
		SurveyID: survey.ID,
		Nickname: nickname,
		JoinedAt: time.Now(),
	}
	if err := j.registry.Register(ctx, p); err != nil {
		return nil, err
	}

	return &JoinResult{
		ParticipantID: p.ID,
		SurveyID:      survey.ID,
		Title:         survey.Title,
		Nickname:      p.Nickname,
	}, nil
}

// Participant returns the participant if it belongs to surveyID.
func (j *JoinCoordinator) Participant(ctx context.Context, surveyID uint, participantID string) (*Participant, error) {
	if participantID == "" {
		return nil, fmt.Errorf("participant: %w", ErrNotFound)
	}
	p, err := j.registry.Lookup(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if p.SurveyID != surveyID {
		return nil, fmt.Errorf("participant %s in survey %d: %w", participantID, surveyID, ErrNotFound)
	}
	return p, nil
}

// Leave forgets a participant identity.
func (j *JoinCoordinator) Leave(ctx context.Context, p *Participant) error {
	return j.registry.Remove(ctx, p)
}

// ParticipantCount returns the number of live participant identities in a survey.
func (j *JoinCoordinator) ParticipantCount(ctx context.Context, surveyID uint) (int64, error) {
	return j.registry.Count(ctx, surveyID)
}
