package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/syncer"
)

// AdapterName is the vault's registration name with the sync
// orchestrator.
const AdapterName = "vault"

// Vault is the markdown layer rooted at a directory. It observes notes
// for the sync cycle and writes approved tags back into frontmatter.
type Vault struct {
	dir    string
	logger *slog.Logger
}

// New opens (creating if needed) a vault at dir.
func New(dir string, logger *slog.Logger) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vault dir %s: %w", dir, err)
	}
	return &Vault{dir: dir, logger: logger}, nil
}

// Dir returns the vault root.
func (v *Vault) Dir() string { return v.dir }

func (v *Vault) Name() string        { return AdapterName }
func (v *Vault) Layer() models.Layer { return models.LayerVault }

// Pull walks the vault for markdown notes modified since the last
// cycle. A note that fails to parse is still returned, flagged with its
// parse error and carrying the raw file text, so it surfaces in the
// review queue instead of disappearing. Only unreadable files are
// skipped; neither case is fatal for the cycle.
func (v *Vault) Pull(ctx context.Context, opts syncer.PullOptions) ([]syncer.SourceItem, error) {
	var items []syncer.SourceItem
	err := filepath.WalkDir(v.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !opts.Since.IsZero() && info.ModTime().Before(opts.Since) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			v.logger.Warn("skipping unreadable note", "path", path, "error", err)
			return nil
		}
		rel, relErr := filepath.Rel(v.dir, path)
		if relErr != nil {
			rel = path
		}

		n, err := parseNote(raw)
		if err != nil {
			v.logger.Warn("malformed note queued for review", "path", path, "error", err)
			items = append(items, syncer.SourceItem{
				SourceID:    rel,
				Title:       strings.TrimSuffix(d.Name(), ".md"),
				Content:     string(raw),
				ContentType: "text/markdown",
				UpdatedAt:   info.ModTime().UTC(),
				ParseError:  err.Error(),
			})
			return nil
		}

		title := n.meta.Title
		if title == "" {
			title = strings.TrimSuffix(d.Name(), ".md")
		}
		items = append(items, syncer.SourceItem{
			EntityID:    n.meta.ID,
			SourceID:    rel,
			Title:       title,
			Content:     n.body,
			ContentType: "text/markdown",
			Tags:        n.tags(),
			UpdatedAt:   info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault: %w", err)
	}
	return opts.Apply(items), nil
}

// Create writes a brand-new note and returns its path relative to the
// vault root. The note lands under its first folder tag, like WriteTags
// would place it.
func (v *Vault) Create(ctx context.Context, item syncer.SourceItem) (string, error) {
	_ = ctx
	n := &note{body: item.Content}
	n.meta.ID = item.EntityID
	n.meta.Title = item.Title
	n.meta.SourceID = item.SourceID
	n.meta.FolderTags = item.Tags.FolderTags
	n.meta.ContentTags = item.Tags.ContentTags
	n.meta.Status = item.Tags.Status

	folder := ""
	if len(item.Tags.FolderTags) > 0 {
		folder = filepath.FromSlash(item.Tags.FolderTags[0])
	}
	name := slugify(item.Title)
	if name == "" {
		name = item.EntityID
	}
	if name == "" {
		name = item.SourceID
	}
	if name == "" {
		return "", fmt.Errorf("note needs a title, entity id, or source id")
	}
	rel := filepath.Join(folder, name+".md")
	if err := v.writeAtomic(filepath.Join(v.dir, rel), n); err != nil {
		return "", err
	}
	return rel, nil
}

// WriteTags rewrites the entity's note with the approved tags and moves
// it when the first folder tag names a different subdirectory. Returns
// the note's path relative to the vault root.
func (v *Vault) WriteTags(ctx context.Context, entity models.Entity, tags models.TagSet) (string, error) {
	_ = ctx
	current := entity.VaultPath
	var n *note
	if current != "" {
		raw, err := os.ReadFile(filepath.Join(v.dir, current))
		if err == nil {
			if parsed, perr := parseNote(raw); perr == nil {
				n = parsed
			}
		}
	}
	if n == nil {
		n = &note{body: entity.Content}
	}

	n.meta.ID = entity.ID
	n.meta.Title = entity.Title
	n.meta.Source = entity.Source
	n.meta.SourceID = entity.SourceID
	n.meta.FolderTags = tags.FolderTags
	n.meta.ContentTags = tags.ContentTags
	n.meta.Status = tags.Status
	if entity.Content != "" {
		n.body = entity.Content
	}

	target := v.notePath(entity, tags)
	if err := v.writeAtomic(filepath.Join(v.dir, target), n); err != nil {
		return "", err
	}

	if current != "" && current != target {
		if err := os.Remove(filepath.Join(v.dir, current)); err != nil && !os.IsNotExist(err) {
			v.logger.Warn("removing old note after move", "path", current, "error", err)
		}
		v.logger.Info("note moved", "entity", entity.ID, "from", current, "to", target)
	}
	return target, nil
}

// notePath places a note under its first folder tag, falling back to
// the source name, with a slug of the title as filename.
func (v *Vault) notePath(entity models.Entity, tags models.TagSet) string {
	folder := entity.Source
	if len(tags.FolderTags) > 0 {
		folder = filepath.FromSlash(tags.FolderTags[0])
	}
	name := slugify(entity.Title)
	if name == "" {
		name = entity.ID
	}
	return filepath.Join(folder, name+".md")
}

func (v *Vault) writeAtomic(path string, n *note) error {
	raw, err := renderNote(n)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating note dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing note: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing note: %w", err)
	}
	return nil
}

// slugify lowercases ASCII, keeps unicode letters and digits, and joins
// words with hyphens. Titles in any script stay readable as filenames.
func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastHyphen = false
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127:
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
