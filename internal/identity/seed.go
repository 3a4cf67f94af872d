package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/pkg/types"
)

// SeedAuthor is one known author to load into a store.
type SeedAuthor struct {
	FullName string                 `json:"full_name"`
	Email    string                 `json:"email,omitempty"`
	Phone    string                 `json:"phone,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SeedResult counts what Seed wrote and skipped.
type SeedResult struct {
	Authors    int `json:"authors_created"`
	Identities int `json:"identities_created"`
	Skipped    int `json:"skipped"`
}

// Seed registers authors as verified exact-match identities: an "email"
// identity, a "whatsapp" or "phone" identity depending on the preferred_contact
// metadata, and an "instagram" handle derived from the e-mail for authors who
// prefer Instagram. An author whose first handle is already registered, or who
// has no usable e-mail or phone, is skipped, so seeding twice is harmless.
func Seed(ctx context.Context, store storage.IdentityStore, authors []SeedAuthor, region string, logger *zap.Logger) (SeedResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var res SeedResult

	for _, sa := range authors {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		name, err := NormalizeName(sa.FullName)
		if err != nil {
			logger.Warn("skipping seed author without a name")
			res.Skipped++
			continue
		}
		email, _ := NormalizeEmail(sa.Email)
		phone, _ := NormalizePhone(sa.Phone, region)

		now := time.Now().UTC()
		author := &types.Author{
			ID:        uuid.NewString(),
			FullName:  name.Display,
			Email:     email,
			Phone:     phone,
			Metadata:  sa.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if author.Metadata == nil {
			author.Metadata = map[string]interface{}{}
		}

		idents := seedIdentities(author, sa, now)
		if len(idents) == 0 {
			logger.Warn("skipping seed author without contact details", zap.String("name", author.FullName))
			res.Skipped++
			continue
		}

		if err := store.InsertAuthor(ctx, author, idents[0]); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				logger.Debug("seed author already present", zap.String("name", author.FullName))
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("failed to seed author %s: %w", author.FullName, err)
		}
		res.Authors++
		res.Identities++

		for _, ident := range idents[1:] {
			if err := store.InsertIdentity(ctx, ident); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					logger.Warn("seed identity already registered",
						zap.String("platform", ident.Platform),
						zap.String("author_id", author.ID))
					continue
				}
				return res, fmt.Errorf("failed to seed identity for %s: %w", author.FullName, err)
			}
			res.Identities++
		}
		logger.Info("seeded author",
			zap.String("author_id", author.ID),
			zap.String("name", author.FullName),
			zap.Int("identities", len(idents)))
	}
	return res, nil
}

func seedIdentities(author *types.Author, sa SeedAuthor, now time.Time) []*types.Identity {
	var out []*types.Identity
	add := func(platform, handle, normalized string) {
		out = append(out, &types.Identity{
			ID:                   uuid.NewString(),
			AuthorID:             author.ID,
			Platform:             platform,
			PlatformIdentifier:   handle,
			NormalizedIdentifier: normalized,
			ConfidenceScore:      1.0,
			MatchingMethod:       types.MethodExactMatch,
			Verified:             true,
			CreatedAt:            now,
		})
	}

	preferred, _ := sa.Metadata["preferred_contact"].(string)
	if author.Email != "" {
		add(types.PlatformEmail, author.Email, author.Email)
	}
	if author.Phone != "" {
		platform := types.PlatformPhone
		if preferred == types.PlatformWhatsApp {
			platform = types.PlatformWhatsApp
		}
		add(platform, author.Phone, author.Phone)
	}
	if preferred == types.PlatformInstagram && author.Email != "" {
		add(types.PlatformInstagram, "@"+strings.SplitN(author.Email, "@", 2)[0], author.Email)
	}
	return out
}
