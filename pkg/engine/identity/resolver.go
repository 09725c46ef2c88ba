// Package identity resolves commit author emails to messaging destinations.
package identity

import (
	"context"
	"io"
	"log/slog"
)

// Directory looks up destination ids for emails. Unknown emails are left out of the result.
type Directory interface {
	LookupByEmail(ctx context.Context, emails []string) (map[string]string, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, emails []string) (map[string]string, error)

func (f DirectoryFunc) LookupByEmail(ctx context.Context, emails []string) (map[string]string, error) {
	return f(ctx, emails)
}

// Resolver merges configured mappings, cached lookups and directory lookups.
// Configured entries always win; only emails missing from both config and cache hit the directory.
type Resolver struct {
	Static    map[string]string
	Store     *Store
	Directory Directory
	Kind      string
	Logger    *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// Resolve returns a destination id for every email it can place.
func (r *Resolver) Resolve(ctx context.Context, emails []string) (map[string]string, error) {
	out := make(map[string]string, len(emails))
	var missing []string
	for _, email := range emails {
		if id, ok := r.Static[email]; ok && id != "" {
			out[email] = id
			continue
		}
		if r.Store != nil {
			if m, ok := r.Store.Get(r.Kind, email); ok {
				out[email] = m.DestinationID
				continue
			}
		}
		missing = append(missing, email)
	}

	if len(missing) == 0 || r.Directory == nil {
		return out, nil
	}

	found, err := r.Directory.LookupByEmail(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, email := range missing {
		id, ok := found[email]
		if !ok || id == "" {
			r.logger().Debug("Author not found in directory", "email", email)
			continue
		}
		out[email] = id
		if r.Store != nil {
			r.Store.Put(Mapping{Email: email, DestinationID: id, Kind: r.Kind, Source: "directory"})
		}
	}

	if r.Store != nil && len(found) > 0 {
		if err := r.Store.Save(); err != nil {
			r.logger().Warn("Failed to persist identity map", "error", err)
		}
	}
	return out, nil
}
