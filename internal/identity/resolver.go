package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/bookleaf/assist/internal/config"
	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

// exactConfidence is the confidence of an exact identifier match.
const exactConfidence = 1.0

// maxAttempts bounds resolution retries after a store uniqueness conflict.
const maxAttempts = 2

type state int

const (
	stateExactLookup state = iota
	stateFuzzyLookup
	stateDisambiguate
	stateCreateNew
	stateMatched
)

func (s state) String() string {
	switch s {
	case stateExactLookup:
		return "exact_lookup"
	case stateFuzzyLookup:
		return "fuzzy_lookup"
	case stateDisambiguate:
		return "disambiguate"
	case stateCreateNew:
		return "create_new"
	case stateMatched:
		return "matched"
	default:
		return "unknown"
	}
}

// Resolver maps a requester onto exactly one author. It keeps no
// per-request state and is safe for concurrent use.
type Resolver struct {
	store         storage.IdentityStore
	exact         *ExactMatcher
	fuzzy         *FuzzyMatcher
	disambiguator *Disambiguator
	cfg           config.IdentityConfig
	validate      *validator.Validate
	logger        *zap.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	now           func() time.Time
}

// NewResolver wires a resolver over store. arbiter may be nil, in which case
// ambiguous candidate sets are settled by the rule fallback.
func NewResolver(store storage.IdentityStore, arbiter Arbiter, cfg config.IdentityConfig, logger *zap.Logger, metrics *Metrics) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:         store,
		exact:         NewExactMatcher(store),
		fuzzy:         NewFuzzyMatcher(store, cfg.MinSimilarity, cfg.MaxCandidates, cfg.DefaultRegion),
		disambiguator: NewDisambiguator(arbiter, cfg.ArbitrationTimeout, cfg.FallbackPenalty, cfg.NewIdentityConfidence, logger, metrics),
		cfg:           cfg,
		validate:      newValidator(),
		logger:        logger,
		metrics:       metrics,
		tracer:        otel.Tracer("github.com/bookleaf/assist/internal/identity"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// request is a validated, normalized ResolveRequest.
type request struct {
	Query
	platform string
	handle   string
	context  string
}

// Resolve returns the author behind req, creating one when nothing matches.
// Only ErrInvalidRequest, ErrInsufficientIdentifiers, ErrStoreConflict and
// store failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	started := time.Now()
	ctx, span := r.tracer.Start(ctx, "Resolver.Resolve",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("platform", req.Platform),
			attribute.Bool("has_name", req.Name != ""),
			attribute.Bool("has_email", req.Email != ""),
			attribute.Bool("has_phone", req.Phone != ""),
		),
	)
	defer span.End()

	rq, err := r.prepare(req)
	if err != nil {
		r.metrics.rejected()
		span.RecordError(err)
		span.SetStatus(codes.Error, "request rejected")
		return nil, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := r.resolveOnce(ctx, rq)
		if err == nil {
			span.SetAttributes(
				attribute.String("method", string(res.Method)),
				attribute.Float64("confidence", res.Confidence),
				attribute.Int("attempt", attempt),
			)
			r.metrics.resolved(string(res.Method), started)
			r.logger.Info("identity resolved",
				zap.String("platform", rq.platform),
				zap.String("email", redactEmail(rq.Email)),
				zap.String("phone", redactPhone(rq.Phone)),
				zap.String("author_id", res.Author.ID),
				zap.String("method", string(res.Method)),
				zap.Float64("confidence", res.Confidence),
				zap.Int("attempt", attempt))
			return res, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "resolution failed")
			return nil, err
		}

		r.metrics.conflict()
		span.AddEvent("store_conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
		r.logger.Debug("store conflict, retrying from exact lookup",
			zap.String("platform", rq.platform),
			zap.Int("attempt", attempt))
	}

	err = fmt.Errorf("%w: platform %s", ErrStoreConflict, rq.platform)
	span.RecordError(err)
	span.SetStatus(codes.Error, "store conflict")
	return nil, err
}

// ResolveFromText extracts e-mail and phone identifiers from free text and
// resolves with the first of each.
func (r *Resolver) ResolveFromText(ctx context.Context, text, platform, conversation string) (*Resolution, error) {
	found := ExtractIdentifiers(text, r.cfg.DefaultRegion)
	if found.Empty() {
		r.metrics.rejected()
		return nil, fmt.Errorf("%w: no e-mail or phone in text", ErrInsufficientIdentifiers)
	}

	req := ResolveRequest{Platform: platform, Context: conversation}
	if len(found.Emails) > 0 {
		req.Email = found.Emails[0]
	}
	if len(found.Phones) > 0 {
		req.Phone = found.Phones[0]
	}
	return r.Resolve(ctx, req)
}

// prepare validates and normalizes req. Identifiers that fail
// normalization are dropped.
func (r *Resolver) prepare(req ResolveRequest) (*request, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	rq := &request{platform: req.Platform, context: strings.TrimSpace(req.Context)}

	if strings.TrimSpace(req.Email) != "" {
		if email, err := NormalizeEmail(req.Email); err == nil {
			rq.Email = email
		} else {
			r.logger.Debug("dropping email", zap.String("email", redactEmail(req.Email)), zap.Error(err))
		}
	}
	if strings.TrimSpace(req.Phone) != "" {
		if phone, err := NormalizePhone(req.Phone, r.cfg.DefaultRegion); err == nil {
			rq.Phone = phone
		} else {
			r.logger.Debug("dropping phone", zap.String("phone", redactPhone(req.Phone)), zap.Error(err))
		}
	}
	if strings.TrimSpace(req.Name) != "" {
		if name, err := NormalizeName(req.Name); err == nil {
			rq.Name = &name
		} else {
			r.logger.Debug("dropping name", zap.Error(err))
		}
	}

	if rq.Email == "" && rq.Phone == "" && rq.Name == nil {
		return nil, ErrInsufficientIdentifiers
	}

	switch {
	case strings.TrimSpace(req.PlatformIdentifier) != "":
		rq.handle = strings.TrimSpace(req.PlatformIdentifier)
	case rq.Email != "":
		rq.handle = rq.Email
	case rq.Phone != "":
		rq.handle = rq.Phone
	default:
		rq.handle = "session:" + uuid.NewString()
	}
	return rq, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, rq *request) (*Resolution, error) {
	var (
		candidates []Candidate
		conflict   bool
		decision   *Decision
	)

	st := stateExactLookup
	for {
		r.logger.Debug("resolver state", zap.Stringer("state", st))

		switch st {
		case stateExactLookup:
			res, err := r.exactLookup(ctx, rq)
			if err != nil {
				return nil, err
			}
			switch {
			case res == nil:
				st = stateFuzzyLookup
			case len(res.Conflict) > 0:
				conflict = true
				candidates = r.conflictCandidates(rq.Query, res.Conflict)
				r.logger.Info("exact identifiers point at different authors",
					zap.Int("authors", len(res.Conflict)),
					zap.NamedError("conflict", ErrIdentityConflict))
				st = stateDisambiguate
			default:
				reason := "e-mail or phone matches a stored author"
				if res.Identity != nil {
					reason = "platform handle already linked to this author"
				}
				decision = &Decision{
					Author:     res.Author,
					Identity:   res.Identity,
					Confidence: exactConfidence,
					Method:     types.MethodExactMatch,
					Reasoning:  reason,
				}
				st = stateMatched
			}

		case stateFuzzyLookup:
			if rq.Name == nil {
				st = stateCreateNew
				break
			}
			var err error
			candidates, err = r.fuzzyLookup(ctx, rq)
			if err != nil {
				return nil, err
			}
			switch {
			case len(candidates) == 0:
				st = stateCreateNew
			case len(candidates) == 1 && candidates[0].Score >= r.cfg.HighConfidence:
				c := candidates[0]
				decision = &Decision{
					Author:     c.Author,
					Confidence: c.Confidence,
					Method:     types.MethodFuzzyMatch,
					Reasoning:  fmt.Sprintf("single high-similarity name match (%.2f)", c.Score),
				}
				st = stateMatched
			default:
				st = stateDisambiguate
			}

		case stateDisambiguate:
			decision = r.disambiguate(ctx, rq, candidates, conflict)
			if decision.Author == nil {
				st = stateCreateNew
			} else {
				st = stateMatched
			}

		case stateCreateNew:
			reason := "no existing author matched"
			if decision != nil && decision.Reasoning != "" {
				reason = decision.Reasoning
			}
			return r.createNew(ctx, rq, reason)

		case stateMatched:
			return r.attach(ctx, rq, decision)
		}
	}
}

func (r *Resolver) exactLookup(ctx context.Context, rq *request) (*ExactResult, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.ExactLookup")
	defer span.End()

	res, err := r.exact.Match(ctx, rq.platform, rq.handle, rq.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "exact lookup failed")
	}
	return res, err
}

func (r *Resolver) fuzzyLookup(ctx context.Context, rq *request) ([]Candidate, error) {
	ctx, span := r.tracer.Start(ctx, "Resolver.FuzzyLookup")
	defer span.End()

	cs, err := r.fuzzy.Match(ctx, rq.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fuzzy lookup failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("candidates", len(cs)))
	return cs, nil
}

func (r *Resolver) disambiguate(ctx context.Context, rq *request, cs []Candidate, conflict bool) *Decision {
	ctx, span := r.tracer.Start(ctx, "Resolver.Disambiguate",
		trace.WithAttributes(
			attribute.Int("candidates", len(cs)),
			attribute.Bool("conflict", conflict),
		),
	)
	defer span.End()

	req := ArbitrationRequest{
		Email:      rq.Email,
		Phone:      rq.Phone,
		Candidates: cs,
		Context:    rq.context,
	}
	if rq.Name != nil {
		req.Name = rq.Name.Display
	}

	d := r.disambiguator.Decide(ctx, req, conflict)
	span.SetAttributes(attribute.String("method", string(d.Method)))
	return d
}

// conflictCandidates scores authors that each own one of the exact
// identifiers. They carry the top fuzzy confidence since a contact field
// matched exactly.
func (r *Resolver) conflictCandidates(q Query, authors []*types.Author) []Candidate {
	cs := r.fuzzy.ScoreAll(q, authors)
	for i := range cs {
		cs[i].Confidence = maxFuzzyConfidence
		cs[i].ContactMatch = true
	}
	return cs
}

func (r *Resolver) createNew(ctx context.Context, rq *request, reason string) (*Resolution, error) {
	now := r.now()
	author := &types.Author{
		ID:        uuid.NewString(),
		FullName:  displayName(rq),
		Email:     rq.Email,
		Phone:     rq.Phone,
		Metadata:  map[string]interface{}{"source_platform": rq.platform},
		CreatedAt: now,
		UpdatedAt: now,
	}
	ident := r.newIdentity(rq, author.ID, r.cfg.NewIdentityConfidence, types.MethodNewIdentity, now)

	if err := r.store.InsertAuthor(ctx, author, ident); err != nil {
		return nil, fmt.Errorf("failed to create author: %w", err)
	}

	return &Resolution{
		Author:     author,
		Identity:   ident,
		Confidence: ident.ConfidenceScore,
		Method:     types.MethodNewIdentity,
		Reasoning:  reason,
		Created:    true,
	}, nil
}

func (r *Resolver) attach(ctx context.Context, rq *request, d *Decision) (*Resolution, error) {
	if d.Identity != nil {
		return &Resolution{
			Author:     d.Author,
			Identity:   d.Identity,
			Confidence: d.Confidence,
			Method:     d.Method,
			Reasoning:  d.Reasoning,
		}, nil
	}

	ident := r.newIdentity(rq, d.Author.ID, d.Confidence, d.Method, r.now())
	if err := r.store.InsertIdentity(ctx, ident); err != nil {
		return nil, fmt.Errorf("failed to link identity to author %s: %w", d.Author.ID, err)
	}

	return &Resolution{
		Author:     d.Author,
		Identity:   ident,
		Confidence: d.Confidence,
		Method:     d.Method,
		Reasoning:  d.Reasoning,
	}, nil
}

func (r *Resolver) newIdentity(rq *request, authorID string, confidence float64, method types.MatchMethod, now time.Time) *types.Identity {
	return &types.Identity{
		ID:                   uuid.NewString(),
		AuthorID:             authorID,
		Platform:             rq.platform,
		PlatformIdentifier:   rq.handle,
		NormalizedIdentifier: normalizedIdentifier(rq),
		ConfidenceScore:      confidence,
		MatchingMethod:       method,
		Verified:             confidence >= types.VerifiedThreshold,
		CreatedAt:            now,
	}
}

func normalizedIdentifier(rq *request) string {
	switch {
	case rq.Email != "":
		return rq.Email
	case rq.Phone != "":
		return rq.Phone
	default:
		return ""
	}
}

// displayName is the requester's cleaned name, or the best contact detail
// when no name was given.
func displayName(rq *request) string {
	switch {
	case rq.Name != nil:
		return rq.Name.Display
	case rq.Email != "":
		return localPart(rq.Email)
	case rq.Phone != "":
		return rq.Phone
	default:
		return "Unknown Author"
	}
}

func redactEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		if email == "" {
			return ""
		}
		return "***"
	}
	local := email[:at]
	if len(local) > 3 {
		local = local[:3]
	}
	return local + "***" + email[at:]
}

func redactPhone(phone string) string {
	d := digitsOnly(phone)
	if d == "" {
		return ""
	}
	if len(d) > 4 {
		d = d[len(d)-4:]
	}
	return "***" + d
}
