package vault

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/models"
	"github.com/vaultsync/vaultsync/internal/syncer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)
	return v
}

func TestParseNote_Frontmatter(t *testing.T) {
	raw := []byte(`---
id: e1
title: 读书笔记
source: apple-notes
source_id: n1
folder_tags:
  - 研究/笔记
content_tags:
  - 研究
status:
  reading: in-progress
---

The body.

Second paragraph.
`)
	n, err := parseNote(raw)
	require.NoError(t, err)
	assert.Equal(t, "e1", n.meta.ID)
	assert.Equal(t, "读书笔记", n.meta.Title)
	assert.Equal(t, "The body.\n\nSecond paragraph.", n.body)
	tags := n.tags()
	assert.Equal(t, []string{"研究/笔记"}, tags.FolderTags)
	assert.Equal(t, "in-progress", tags.Status["reading"])
}

func TestParseNote_NoFrontmatterIsBodyOnly(t *testing.T) {
	n, err := parseNote([]byte("just some text\n"))
	require.NoError(t, err)
	assert.Empty(t, n.meta.ID)
	assert.Equal(t, "just some text", n.body)
}

func TestParseNote_Malformed(t *testing.T) {
	_, err := parseNote([]byte("---\nid: e1\nno terminator"))
	require.Error(t, err)

	_, err = parseNote([]byte("---\n{not: [valid\n---\nbody"))
	require.Error(t, err)
}

func TestRenderNote_RoundTrips(t *testing.T) {
	original := &note{
		meta: frontmatter{
			ID: "e1", Title: "标题", Source: "apple-notes", SourceID: "n1",
			FolderTags:  []string{"研究/笔记"},
			ContentTags: []string{"研究"},
			Status:      map[string]string{"reading": "done"},
		},
		body: "body line one\n\nbody line two",
	}
	raw, err := renderNote(original)
	require.NoError(t, err)

	parsed, err := parseNote(raw)
	require.NoError(t, err)
	assert.Equal(t, original.meta, parsed.meta)
	assert.Equal(t, original.body, parsed.body)
}

func TestVault_PullReadsNotes(t *testing.T) {
	v := newTestVault(t)
	dir := filepath.Join(v.Dir(), "研究")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "论文.md"),
		[]byte("---\nid: e1\ntitle: 论文\n---\n\nnote body\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(), "untitled.md"),
		[]byte("plain body\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(), "ignored.txt"),
		[]byte("not markdown"), 0o644))

	items, err := v.Pull(context.Background(), syncer.PullOptions{})
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]syncer.SourceItem{}
	for _, item := range items {
		byID[item.SourceID] = item
	}
	paper := byID[filepath.Join("研究", "论文.md")]
	assert.Equal(t, "e1", paper.EntityID)
	assert.Equal(t, "论文", paper.Title)
	assert.Equal(t, "note body", paper.Content)
	assert.Equal(t, "text/markdown", paper.ContentType)

	plain := byID["untitled.md"]
	assert.Empty(t, plain.EntityID)
	assert.Equal(t, "untitled", plain.Title, "title falls back to the filename")
}

func TestVault_PullHonorsSince(t *testing.T) {
	v := newTestVault(t)
	old := filepath.Join(v.Dir(), "old.md")
	require.NoError(t, os.WriteFile(old, []byte("old body\n"), 0o644))
	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, stale, stale))
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(), "new.md"), []byte("new body\n"), 0o644))

	items, err := v.Pull(context.Background(), syncer.PullOptions{Since: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "new.md", items[0].SourceID)
}

func TestVault_PullSurfacesMalformedNotes(t *testing.T) {
	v := newTestVault(t)
	rawBroken := "---\nid: e1\nnever terminated"
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(), "broken.md"),
		[]byte(rawBroken), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(v.Dir(), "fine.md"),
		[]byte("fine body\n"), 0o644))

	items, err := v.Pull(context.Background(), syncer.PullOptions{})
	require.NoError(t, err)
	require.Len(t, items, 2, "a malformed note is flagged, not dropped")

	byID := map[string]syncer.SourceItem{}
	for _, item := range items {
		byID[item.SourceID] = item
	}
	broken := byID["broken.md"]
	assert.NotEmpty(t, broken.ParseError)
	assert.Equal(t, rawBroken, broken.Content, "the raw text goes to the reviewer as-is")
	assert.Equal(t, "broken", broken.Title)
	assert.Empty(t, broken.EntityID, "a half-parsed id is not trusted")

	assert.Empty(t, byID["fine.md"].ParseError)
}

func TestVault_PullHonorsLimitAndOrder(t *testing.T) {
	v := newTestVault(t)
	times := map[string]time.Duration{"a.md": -3 * time.Hour, "b.md": -2 * time.Hour, "c.md": -time.Hour}
	for name, age := range times {
		path := filepath.Join(v.Dir(), name)
		require.NoError(t, os.WriteFile(path, []byte("body of "+name+"\n"), 0o644))
		mod := time.Now().Add(age)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}

	items, err := v.Pull(context.Background(), syncer.PullOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "c.md", items[0].SourceID, "newest first by default")
	assert.Equal(t, "b.md", items[1].SourceID)

	items, err = v.Pull(context.Background(), syncer.PullOptions{Limit: 2, Order: syncer.OrderOldestFirst})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a.md", items[0].SourceID)
	assert.Equal(t, "b.md", items[1].SourceID)
}

func TestVault_CreateWritesNote(t *testing.T) {
	v := newTestVault(t)
	rel, err := v.Create(context.Background(), syncer.SourceItem{
		EntityID: "e1",
		Title:    "新想法",
		Content:  "seed body",
		Tags:     models.TagSet{FolderTags: []string{"研究/笔记"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("研究", "笔记", "新想法.md"), rel)

	raw, err := os.ReadFile(filepath.Join(v.Dir(), rel))
	require.NoError(t, err)
	n, err := parseNote(raw)
	require.NoError(t, err)
	assert.Equal(t, "e1", n.meta.ID)
	assert.Equal(t, "seed body", n.body)
	assert.Equal(t, []string{"研究/笔记"}, n.meta.FolderTags)
}

func TestVault_WriteTagsCreatesNote(t *testing.T) {
	v := newTestVault(t)
	entity := models.Entity{
		ID: "e1", Source: "apple-notes", SourceID: "n1",
		Title: "读书笔记", Content: "the body",
	}
	tags := models.TagSet{
		FolderTags:  []string{"研究/笔记"},
		ContentTags: []string{"研究"},
		Status:      map[string]string{"reading": "to-read"},
	}

	rel, err := v.WriteTags(context.Background(), entity, tags)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("研究", "笔记", "读书笔记.md"), rel)

	raw, err := os.ReadFile(filepath.Join(v.Dir(), rel))
	require.NoError(t, err)
	n, err := parseNote(raw)
	require.NoError(t, err)
	assert.Equal(t, "e1", n.meta.ID)
	assert.Equal(t, []string{"研究/笔记"}, n.meta.FolderTags)
	assert.Equal(t, "the body", n.body)
}

func TestVault_WriteTagsMovesNoteOnFolderChange(t *testing.T) {
	v := newTestVault(t)
	entity := models.Entity{ID: "e1", Source: "apple-notes", Title: "note", Content: "body"}

	first, err := v.WriteTags(context.Background(), entity, models.TagSet{FolderTags: []string{"inbox"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("inbox", "note.md"), first)

	entity.VaultPath = first
	second, err := v.WriteTags(context.Background(), entity, models.TagSet{FolderTags: []string{"archive"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("archive", "note.md"), second)

	_, err = os.Stat(filepath.Join(v.Dir(), first))
	assert.True(t, os.IsNotExist(err), "the old location is cleaned up")
	_, err = os.Stat(filepath.Join(v.Dir(), second))
	require.NoError(t, err)
}

func TestVault_WriteTagsPreservesEditedBody(t *testing.T) {
	v := newTestVault(t)
	entity := models.Entity{ID: "e1", Source: "apple-notes", Title: "note", Content: "approved body"}

	rel, err := v.WriteTags(context.Background(), entity, models.TagSet{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("apple-notes", "note.md"), rel, "no folder tag falls back to the source name")

	raw, err := os.ReadFile(filepath.Join(v.Dir(), rel))
	require.NoError(t, err)
	n, err := parseNote(raw)
	require.NoError(t, err)
	assert.Equal(t, "approved body", n.body)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Simple Title":      "simple-title",
		"读书笔记":              "读书笔记",
		"Mixed 研究 notes!":   "mixed-研究-notes",
		"  spaced   out  ":  "spaced-out",
		"!!!":               "",
		"a/b\\c:d":          "a-b-c-d",
		"Trailing-Dash--":   "trailing-dash",
	}
	for in, want := range cases {
		assert.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}
