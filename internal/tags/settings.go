package tags

import (
	"context"
	"strings"

	"tagdesk/internal/remote"
)

// Settings are the bot-wide switches of the tag-config document.
type Settings struct {
	Enable            bool     `json:"enable"`
	TagPrefix         string   `json:"tag_prefix"`
	AllowAllAddTag    bool     `json:"allow_all_add_tag"`
	AllowAllRemoveTag bool     `json:"allow_all_remove_tag"`
	AllowAllViewTag   bool     `json:"allow_all_view_tag"`
	AllowAllListTag   bool     `json:"allow_all_list_tag"`
	AdminUsers        []string `json:"admin_users"`
}

func settingsOf(doc remote.TagConfig) Settings {
	return Settings{
		Enable:            doc.Enable,
		TagPrefix:         doc.TagPrefix,
		AllowAllAddTag:    doc.AllowAllAddTag,
		AllowAllRemoveTag: doc.AllowAllRemoveTag,
		AllowAllViewTag:   doc.AllowAllViewTag,
		AllowAllListTag:   doc.AllowAllListTag,
		AdminUsers:        append([]string{}, doc.AdminUsers...),
	}
}

// Settings returns the switches of the loaded document.
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return settingsOf(r.doc)
}

// SetSettings writes s into the document and saves it whole. Admin users
// are trimmed and blank lines dropped; order is kept.
func (r *Registry) SetSettings(ctx context.Context, s Settings) (Settings, error) {
	admins := make([]string, 0, len(s.AdminUsers))
	for _, u := range s.AdminUsers {
		if u = strings.TrimSpace(u); u != "" {
			admins = append(admins, u)
		}
	}
	var saved Settings
	err := r.edit(ctx, "save settings", func(doc *remote.TagConfig) error {
		doc.Enable = s.Enable
		doc.TagPrefix = s.TagPrefix
		doc.AllowAllAddTag = s.AllowAllAddTag
		doc.AllowAllRemoveTag = s.AllowAllRemoveTag
		doc.AllowAllViewTag = s.AllowAllViewTag
		doc.AllowAllListTag = s.AllowAllListTag
		doc.AdminUsers = admins
		saved = settingsOf(*doc)
		return nil
	})
	if err != nil {
		return Settings{}, err
	}
	return saved, nil
}
