package cache

import (
	"context"
	"fmt"

	"github.com/hazyhaar/pubtree/notify"
)

// dispatch translates one batch of change payloads into tree operations.
// Delivery is at-least-once and unordered across ids, so every branch must
// be idempotent. An unrecognized kind is a contract violation upstream and
// returns an error — fail fast, never skip.
func (c *Cache) dispatch(ctx context.Context, batch []notify.Payload) error {
	for _, p := range batch {
		switch p.Kind {
		case notify.RefreshAll:
			// Load failures keep the previous tree published; logged, not
			// fatal.
			if err := c.Reload(ctx); err != nil {
				c.logger.Error("cache: full reload failed", "error", err)
			}

		case notify.RefreshNode:
			for _, id := range p.IDs {
				if err := c.refreshOne(ctx, id); err != nil {
					return err
				}
			}

		case notify.RemoveNode:
			for _, id := range p.IDs {
				c.Remove(id)
			}

		case notify.TypeChanged:
			if !p.Structural {
				c.logger.Debug("cache: cosmetic type change ignored", "types", p.TypeTags)
				continue
			}
			if err := c.RefreshTypes(ctx, p.TypeTags); err != nil {
				c.logger.Error("cache: type rebuild failed", "types", p.TypeTags, "error", err)
			}

		default:
			return fmt.Errorf("cache: unsupported change kind %s", p.Kind)
		}
	}
	return nil
}

// refreshOne fetches the canonical published form and splices it in. An
// entity that no longer exists, or is no longer published, is removed — a
// refresh notification can legitimately arrive after an unpublish.
func (c *Cache) refreshOne(ctx context.Context, id int64) error {
	e, err := c.store.FetchEntity(ctx, id)
	if err != nil {
		c.errs.Add(1)
		c.logger.Error("cache: entity fetch failed", "id", id, "error", err)
		return nil
	}
	if e == nil || !e.Published || e.Trashed {
		c.Remove(id)
		return nil
	}
	return c.Refresh(e)
}
