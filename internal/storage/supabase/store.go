// Package supabase provides a storage.IdentityStore backed by a Supabase
// project through its PostgREST API. The tables match the postgres schema.
//
// PostgREST offers no multi-statement transaction, so InsertAuthor writes the
// author, its name tokens and its first identity as separate requests. Until
// the identity lands, the author is visible to name lookups without any
// identity. If a later write fails the author is deleted again, but only
// while it still has no identities: another request that attached to it in
// that window keeps it, and the author is then left without the identity
// this call meant to write. The postgrest client takes no context, so
// cancellation is checked between requests and cannot interrupt one in
// flight.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/bookleaf/assist/internal/logging"
	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

const (
	tableAuthors    = "authors"
	tableIdentities = "identities"
	tableTokens     = "author_name_tokens"

	identityColumns = "id,author_id,platform,platform_identifier,normalized_identifier,confidence_score,matching_method,verified,created_at"
	authorColumns   = "id,full_name,email,phone,metadata,created_at,updated_at"
)

// Store implements storage.IdentityStore over Supabase.
type Store struct {
	client *supabase.Client
	logger *zap.Logger
}

var _ storage.IdentityStore = (*Store)(nil)

// NewStore creates a store for the project at url using the service key.
func NewStore(url, key string, logger *zap.Logger) (*Store, error) {
	client, err := supabase.NewClient(url, key, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: failed to create client: %w", err)
	}
	return &Store{client: client, logger: logging.OrNop(logger)}, nil
}

type authorRow struct {
	ID        string                 `json:"id"`
	FullName  string                 `json:"full_name"`
	Email     *string                `json:"email"`
	Phone     *string                `json:"phone"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type identityRow struct {
	ID                   string    `json:"id"`
	AuthorID             string    `json:"author_id"`
	Platform             string    `json:"platform"`
	PlatformIdentifier   string    `json:"platform_identifier"`
	NormalizedIdentifier *string   `json:"normalized_identifier"`
	ConfidenceScore      float64   `json:"confidence_score"`
	MatchingMethod       string    `json:"matching_method"`
	Verified             bool      `json:"verified"`
	CreatedAt            time.Time `json:"created_at"`
}

type tokenRow struct {
	Token    string `json:"token"`
	AuthorID string `json:"author_id"`
}

// FindIdentity returns the identity for a platform handle, or (nil, nil).
func (s *Store) FindIdentity(ctx context.Context, platform, platformIdentifier string) (*types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []identityRow
	err := s.selectInto(&rows, s.client.From(tableIdentities).
		Select(identityColumns, "", false).
		Eq("platform", platform).
		Eq("platform_identifier", platformIdentifier).
		Limit(1, ""))
	if err != nil {
		return nil, fmt.Errorf("supabase: failed to find identity: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toIdentity(), nil
}

// FindByIdentifier returns the sorted IDs of authors owning normalized.
func (s *Store) FindByIdentifier(ctx context.Context, normalized string) ([]string, error) {
	if normalized == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owners := make(map[string]struct{})

	var idents []identityRow
	if err := s.selectInto(&idents, s.client.From(tableIdentities).
		Select("author_id", "", false).
		Eq("normalized_identifier", normalized)); err != nil {
		return nil, fmt.Errorf("supabase: failed to query identities: %w", err)
	}
	for _, r := range idents {
		owners[r.AuthorID] = struct{}{}
	}

	var authors []authorRow
	if err := s.selectInto(&authors, s.client.From(tableAuthors).
		Select("id", "", false).
		Or(fmt.Sprintf("email.eq.%s,phone.eq.%s", quote(normalized), quote(normalized)), "")); err != nil {
		return nil, fmt.Errorf("supabase: failed to query authors: %w", err)
	}
	for _, r := range authors {
		owners[r.ID] = struct{}{}
	}

	return sortedKeys(owners), nil
}

// FindCandidatesByNameToken returns authors sharing a blocking token.
func (s *Store) FindCandidatesByNameToken(ctx context.Context, tokens []string, limit int) ([]*types.Author, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tokenRows []tokenRow
	if err := s.selectInto(&tokenRows, s.client.From(tableTokens).
		Select("author_id", "", false).
		In("token", tokens)); err != nil {
		return nil, fmt.Errorf("supabase: failed to query name tokens: %w", err)
	}
	ids := make(map[string]struct{}, len(tokenRows))
	for _, r := range tokenRows {
		ids[r.AuthorID] = struct{}{}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q := s.client.From(tableAuthors).
		Select(authorColumns, "", false).
		In("id", sortedKeys(ids)).
		Order("id", &postgrest.OrderOpts{Ascending: true})
	if limit > 0 {
		q = q.Limit(limit, "")
	}

	var rows []authorRow
	if err := s.selectInto(&rows, q); err != nil {
		return nil, fmt.Errorf("supabase: failed to query candidates: %w", err)
	}
	out := make([]*types.Author, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toAuthor())
	}
	return out, nil
}

// GetAuthor retrieves an author by ID.
func (s *Store) GetAuthor(ctx context.Context, id string) (*types.Author, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []authorRow
	if err := s.selectInto(&rows, s.client.From(tableAuthors).
		Select(authorColumns, "", false).
		Eq("id", id).
		Limit(1, "")); err != nil {
		return nil, fmt.Errorf("supabase: failed to get author: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("author %s: %w", id, storage.ErrNotFound)
	}
	return rows[0].toAuthor(), nil
}

// ListIdentities returns the author's identities, oldest first.
func (s *Store) ListIdentities(ctx context.Context, authorID string) ([]*types.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []identityRow
	if err := s.selectInto(&rows, s.client.From(tableIdentities).
		Select(identityColumns, "", false).
		Eq("author_id", authorID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Order("id", &postgrest.OrderOpts{Ascending: true})); err != nil {
		return nil, fmt.Errorf("supabase: failed to list identities: %w", err)
	}
	out := make([]*types.Identity, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toIdentity())
	}
	return out, nil
}

// InsertAuthor writes the author, its name tokens and first identity. When a
// later write is rejected or ctx is cancelled, the author row is rolled back.
func (s *Store) InsertAuthor(ctx context.Context, author *types.Author, first *types.Identity) error {
	if author == nil || first == nil {
		return storage.ErrInvalidInput
	}
	if err := storage.ValidateInsert(author, first); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Fail fast on a known handle before writing anything.
	existing, err := s.FindIdentity(ctx, first.Platform, first.PlatformIdentifier)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%s/%s: %w", first.Platform, first.PlatformIdentifier, storage.ErrConflict)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := s.client.From(tableAuthors).
		Insert(fromAuthor(author), false, "", "minimal", "").
		Execute(); err != nil {
		return translateError("insert author", err)
	}

	tokens := storage.BlockingTokens(author.FullName)
	if len(tokens) > 0 {
		if err := ctx.Err(); err != nil {
			s.rollbackAuthor(ctx, author.ID)
			return err
		}
		rows := make([]tokenRow, 0, len(tokens))
		for _, tok := range tokens {
			rows = append(rows, tokenRow{Token: tok, AuthorID: author.ID})
		}
		if _, _, err := s.client.From(tableTokens).
			Insert(rows, false, "", "minimal", "").
			Execute(); err != nil {
			s.rollbackAuthor(ctx, author.ID)
			return translateError("insert name tokens", err)
		}
	}

	if err := ctx.Err(); err != nil {
		s.rollbackAuthor(ctx, author.ID)
		return err
	}
	if _, _, err := s.client.From(tableIdentities).
		Insert(fromIdentity(first), false, "", "minimal", "").
		Execute(); err != nil {
		s.rollbackAuthor(ctx, author.ID)
		return translateError("insert identity", err)
	}
	return nil
}

// InsertIdentity attaches identity to an existing author.
func (s *Store) InsertIdentity(ctx context.Context, identity *types.Identity) error {
	if identity == nil {
		return storage.ErrInvalidInput
	}
	if err := storage.ValidateInsert(nil, identity); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, _, err := s.client.From(tableIdentities).
		Insert(fromIdentity(identity), false, "", "minimal", "").
		Execute(); err != nil {
		return translateError("insert identity", err)
	}
	return nil
}

// Close is a no-op; the client holds no persistent connections.
func (s *Store) Close() error {
	return nil
}

// rollbackAuthor removes a partially written author. Tokens cascade, and so
// would identities, so an author that gained one meanwhile is kept.
func (s *Store) rollbackAuthor(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	attached, err := s.ListIdentities(ctx, id)
	if err != nil {
		s.logger.Error("failed to check author before rollback, keeping it",
			zap.String("author_id", id), zap.Error(err))
		return
	}
	if len(attached) > 0 {
		s.logger.Warn("author gained identities before rollback, keeping it",
			zap.String("author_id", id), zap.Int("identities", len(attached)))
		return
	}
	if _, _, err := s.client.From(tableAuthors).
		Delete("minimal", "").
		Eq("id", id).
		Execute(); err != nil {
		s.logger.Error("failed to roll back author insert", zap.String("author_id", id), zap.Error(err))
	}
}

func (s *Store) selectInto(dst interface{}, q *postgrest.FilterBuilder) error {
	body, _, err := q.Execute()
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// translateError maps PostgREST error codes onto storage errors. The client
// reports failures as "(code) message".
func translateError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "(23505)") || strings.Contains(msg, "duplicate key"):
		return fmt.Errorf("supabase: %s: %w", op, storage.ErrConflict)
	case strings.Contains(msg, "(23503)"):
		return fmt.Errorf("supabase: %s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("supabase: %s: %w", op, err)
}

// quote wraps a value for use inside a PostgREST or() filter.
func quote(v string) string {
	return strconv.Quote(v)
}

func fromAuthor(a *types.Author) authorRow {
	return authorRow{
		ID:        a.ID,
		FullName:  a.FullName,
		Email:     optional(a.Email),
		Phone:     optional(a.Phone),
		Metadata:  a.Metadata,
		CreatedAt: timestamp(a.CreatedAt),
		UpdatedAt: timestamp(a.UpdatedAt),
	}
}

func (r *authorRow) toAuthor() *types.Author {
	a := &types.Author{
		ID:        r.ID,
		FullName:  r.FullName,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Email != nil {
		a.Email = *r.Email
	}
	if r.Phone != nil {
		a.Phone = *r.Phone
	}
	if a.Metadata == nil {
		a.Metadata = map[string]interface{}{}
	}
	return a
}

func fromIdentity(i *types.Identity) identityRow {
	return identityRow{
		ID:                   i.ID,
		AuthorID:             i.AuthorID,
		Platform:             i.Platform,
		PlatformIdentifier:   i.PlatformIdentifier,
		NormalizedIdentifier: optional(i.NormalizedIdentifier),
		ConfidenceScore:      i.ConfidenceScore,
		MatchingMethod:       string(i.MatchingMethod),
		Verified:             i.Verified,
		CreatedAt:            timestamp(i.CreatedAt),
	}
}

func (r *identityRow) toIdentity() *types.Identity {
	i := &types.Identity{
		ID:                 r.ID,
		AuthorID:           r.AuthorID,
		Platform:           r.Platform,
		PlatformIdentifier: r.PlatformIdentifier,
		ConfidenceScore:    r.ConfidenceScore,
		MatchingMethod:     types.MatchMethod(r.MatchingMethod),
		Verified:           r.Verified,
		CreatedAt:          r.CreatedAt,
	}
	if r.NormalizedIdentifier != nil {
		i.NormalizedIdentifier = *r.NormalizedIdentifier
	}
	return i
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
