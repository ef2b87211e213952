package remote

import (
	"bytes"
	"encoding/json"
)

// TaskPayload is the request body for create and update. Updates replace the
// whole body server-side.
type TaskPayload struct {
	Tag          string `json:"tag"`
	ScheduleType string `json:"schedule_type"`
	Time         string `json:"time"`
	Message      string `json:"message"`
}

// Task is a scheduled broadcast as listed by GET /api/tasks.
type Task struct {
	ID string `json:"id"`
	TaskPayload
	LastExecution string `json:"last_execution,omitempty"`
}

// ExecStatus is the server-owned execution state of a task.
type ExecStatus struct {
	IsRunning     bool   `json:"is_running"`
	LastExecution string `json:"last_execution,omitempty"`
	LastSuccess   string `json:"last_success,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	SuccessCount  int    `json:"success_count"`
	ErrorCount    int    `json:"error_count"`
	TotalAttempts int    `json:"total_attempts"`
}

// StatusEntry is one element of GET /api/tasks/status.
type StatusEntry struct {
	ID      string     `json:"id"`
	Status  ExecStatus `json:"status"`
	NextRun string     `json:"next_run,omitempty"`
}

// FailedFriend is a broadcast recipient that could not be reached.
//
// The bot reports failures either as {"name","error"} objects or as bare
// friend names; both decode here.
type FailedFriend struct {
	Name  string `json:"name"`
	Error string `json:"error,omitempty"`
}

func (f *FailedFriend) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*f = FailedFriend{Name: name}
		return nil
	}
	type plain FailedFriend
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*f = FailedFriend(p)
	return nil
}

// BroadcastResponse is the body of POST /api/broadcast.
type BroadcastResponse struct {
	Message       string         `json:"message,omitempty"`
	SuccessCount  int            `json:"success_count"`
	FailCount     int            `json:"fail_count"`
	FailedFriends []FailedFriend `json:"failed_friends"`
}

// TagConfig is the tag configuration document of the bot. It is read and
// written as a whole; keys this client does not model are kept in extra and
// written back unchanged.
type TagConfig struct {
	Enable            bool                `json:"enable"`
	TagPrefix         string              `json:"tag_prefix"`
	AllowAllAddTag    bool                `json:"allow_all_add_tag"`
	AllowAllRemoveTag bool                `json:"allow_all_remove_tag"`
	AllowAllViewTag   bool                `json:"allow_all_view_tag"`
	AllowAllListTag   bool                `json:"allow_all_list_tag"`
	AdminUsers        []string            `json:"admin_users"`
	EnabledTags       []string            `json:"enabled_tags"`
	AutoReply         map[string]string   `json:"auto_reply"`
	TagsFriends       map[string][]string `json:"tags_friends"`
	ScheduledTasks    json.RawMessage     `json:"scheduled_tasks,omitempty"`

	extra map[string]json.RawMessage
}

type tagConfigFields TagConfig

var tagConfigKeys = []string{
	"enable", "tag_prefix", "allow_all_add_tag", "allow_all_remove_tag",
	"allow_all_view_tag", "allow_all_list_tag", "admin_users", "enabled_tags",
	"auto_reply", "tags_friends", "scheduled_tasks",
}

func (c *TagConfig) UnmarshalJSON(b []byte) error {
	var f tagConfigFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for _, k := range tagConfigKeys {
		delete(all, k)
	}
	*c = TagConfig(f)
	if len(all) > 0 {
		c.extra = all
	}
	return nil
}

func (c TagConfig) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(tagConfigFields(c))
	if err != nil || len(c.extra) == 0 {
		return b, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range c.extra {
		if _, known := all[k]; !known {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Clone returns a deep copy.
func (c TagConfig) Clone() TagConfig {
	out := c
	out.AdminUsers = append([]string(nil), c.AdminUsers...)
	out.EnabledTags = append([]string(nil), c.EnabledTags...)
	if c.AutoReply != nil {
		out.AutoReply = make(map[string]string, len(c.AutoReply))
		for k, v := range c.AutoReply {
			out.AutoReply[k] = v
		}
	}
	if c.TagsFriends != nil {
		out.TagsFriends = make(map[string][]string, len(c.TagsFriends))
		for k, v := range c.TagsFriends {
			out.TagsFriends[k] = append([]string(nil), v...)
		}
	}
	out.ScheduledTasks = append(json.RawMessage(nil), c.ScheduledTasks...)
	if c.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(c.extra))
		for k, v := range c.extra {
			out.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}
