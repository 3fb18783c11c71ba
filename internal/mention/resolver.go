package mention

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
)

// tokenPattern matches <@ID> and <@!ID> with platform snowflake ids.
var tokenPattern = regexp.MustCompile(`<@!?(\d{11,})>`)

var ErrUnknownUser = errors.New("unknown user")

// Directory looks up a display name by user id.
type Directory interface {
	LookupUser(ctx context.Context, userID string) (string, error)
}

// MapDirectory is a fixed id → name table.
type MapDirectory map[string]string

func (m MapDirectory) LookupUser(_ context.Context, userID string) (string, error) {
	if name, ok := m[userID]; ok && name != "" {
		return name, nil
	}
	return "", ErrUnknownUser
}

// Resolver rewrites mention tokens into readable @names before the text
// is sent to the model.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, logger: logger}
}

// Resolve replaces every mention token in content. Names come from the
// event's own mention list first, then the directory. Tokens that cannot
// be resolved are left untouched.
func (r *Resolver) Resolve(ctx context.Context, content string, known []chat.User) string {
	if r == nil || !tokenPattern.MatchString(content) {
		return content
	}

	names := make(map[string]string, len(known))
	for _, u := range known {
		if u.ID != "" && u.Name != "" {
			names[u.ID] = u.Name
		}
	}
	missing := make(map[string]bool)

	return tokenPattern.ReplaceAllStringFunc(content, func(token string) string {
		id := tokenPattern.FindStringSubmatch(token)[1]
		if name, ok := names[id]; ok {
			return "@" + name
		}
		if missing[id] || r.dir == nil {
			return token
		}
		name, err := r.dir.LookupUser(ctx, id)
		if err != nil || name == "" {
			r.logger.Debug("mention lookup failed", "user_id", id, "err", err)
			missing[id] = true
			return token
		}
		names[id] = name
		return "@" + name
	})
}
