// Package vault reads and writes the intermediate markdown layer: one
// note per entity, YAML frontmatter carrying identity and tag state,
// body carrying the content. The first folder tag decides which
// subdirectory a note lives in.
package vault

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vaultsync/vaultsync/internal/models"
)

const frontmatterDelim = "---"

// frontmatter is the YAML header of a vault note.
type frontmatter struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Source      string            `yaml:"source,omitempty"`
	SourceID    string            `yaml:"source_id,omitempty"`
	FolderTags  []string          `yaml:"folder_tags,omitempty"`
	ContentTags []string          `yaml:"content_tags,omitempty"`
	Status      map[string]string `yaml:"status,omitempty"`
}

// note is a parsed vault document.
type note struct {
	meta frontmatter
	body string
}

func (n *note) tags() models.TagSet {
	return models.TagSet{
		FolderTags:  append([]string(nil), n.meta.FolderTags...),
		ContentTags: append([]string(nil), n.meta.ContentTags...),
		Status:      n.meta.Status,
	}.Clone()
}

// parseNote splits a document into frontmatter and body. A document
// without a frontmatter block parses as body-only with empty meta; the
// sync cycle will then treat it as a new, unidentified note.
func parseNote(raw []byte) (*note, error) {
	text := string(raw)
	if !strings.HasPrefix(text, frontmatterDelim+"\n") {
		return &note{body: strings.TrimSpace(text)}, nil
	}

	rest := text[len(frontmatterDelim)+1:]
	idx := strings.Index(rest, "\n"+frontmatterDelim)
	if idx < 0 {
		return nil, fmt.Errorf("unterminated frontmatter block")
	}
	header := rest[:idx]
	body := rest[idx+len(frontmatterDelim)+1:]
	body = strings.TrimPrefix(body, "\n")

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
		return nil, fmt.Errorf("parsing frontmatter: %w", err)
	}
	return &note{meta: meta, body: strings.TrimSpace(body)}, nil
}

// renderNote serializes a note back to its on-disk form.
func renderNote(n *note) ([]byte, error) {
	header, err := yaml.Marshal(&n.meta)
	if err != nil {
		return nil, fmt.Errorf("rendering frontmatter: %w", err)
	}
	var b strings.Builder
	b.WriteString(frontmatterDelim + "\n")
	b.Write(header)
	b.WriteString(frontmatterDelim + "\n\n")
	b.WriteString(n.body)
	b.WriteString("\n")
	return []byte(b.String()), nil
}
