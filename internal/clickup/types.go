package clickup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/emilianohg/clickmirror/internal/models"
)

// FlexID decodes ids the API sends as either JSON numbers or strings.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// Millis is an integer millisecond value sent as number, string or null.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*m = 0
		return nil
	}
	b = bytes.Trim(b, `"`)
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("millis %q: %w", b, err)
	}
	*m = Millis(v)
	return nil
}

func (m Millis) Duration() time.Duration { return time.Duration(m) * time.Millisecond }

// Time returns nil for an unset timestamp.
func (m Millis) Time() *time.Time {
	if m <= 0 {
		return nil
	}
	t := time.UnixMilli(int64(m)).UTC()
	return &t
}

func ToMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

type Ref struct {
	ID     FlexID `json:"id"`
	Name   string `json:"name"`
	Hidden bool   `json:"hidden"`
}

type UserDTO struct {
	ID       FlexID `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     int    `json:"role"`
}

// RoleName maps the numeric workspace role.
func (u UserDTO) RoleName() string {
	switch u.Role {
	case 1:
		return "owner"
	case 2:
		return "admin"
	case 3:
		return "member"
	case 4:
		return "guest"
	}
	return ""
}

type MemberDTO struct {
	User UserDTO `json:"user"`
}

type TeamDTO struct {
	ID      FlexID      `json:"id"`
	Name    string      `json:"name"`
	Members []MemberDTO `json:"members"`
}

type TeamsResponse struct {
	Teams []TeamDTO `json:"teams"`
}

func (r *TeamsResponse) Validate() error {
	for _, t := range r.Teams {
		if t.ID == "" {
			return fmt.Errorf("%w: team without id", ErrInvalidReply)
		}
	}
	return nil
}

type TeamResponse struct {
	Team TeamDTO `json:"team"`
}

func (r *TeamResponse) Validate() error {
	if r.Team.ID == "" {
		return fmt.Errorf("%w: team without id", ErrInvalidReply)
	}
	return nil
}

type SpaceDTO struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

func (s *SpaceDTO) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: space without id", ErrInvalidReply)
	}
	return nil
}

type SpacesResponse struct {
	Spaces []SpaceDTO `json:"spaces"`
}

func (r *SpacesResponse) Validate() error {
	for i := range r.Spaces {
		if err := r.Spaces[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type ListDTO struct {
	ID     FlexID `json:"id"`
	Name   string `json:"name"`
	Folder *Ref   `json:"folder,omitempty"`
	Space  *Ref   `json:"space,omitempty"`
}

func (l *ListDTO) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: list without id", ErrInvalidReply)
	}
	return nil
}

type ListsResponse struct {
	Lists []ListDTO `json:"lists"`
}

func (r *ListsResponse) Validate() error {
	for i := range r.Lists {
		if err := r.Lists[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type FolderDTO struct {
	ID    FlexID    `json:"id"`
	Name  string    `json:"name"`
	Space *Ref      `json:"space,omitempty"`
	Lists []ListDTO `json:"lists"`
}

func (f *FolderDTO) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("%w: folder without id", ErrInvalidReply)
	}
	for i := range f.Lists {
		if err := f.Lists[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type FoldersResponse struct {
	Folders []FolderDTO `json:"folders"`
}

func (r *FoldersResponse) Validate() error {
	for i := range r.Folders {
		if err := r.Folders[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type StatusDTO struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

type PriorityDTO struct {
	Priority string `json:"priority"`
}

type TagDTO struct {
	Name string `json:"name"`
}

type TaskDTO struct {
	ID           FlexID       `json:"id"`
	Name         string       `json:"name"`
	TextContent  string       `json:"text_content"`
	Description  string       `json:"description"`
	Status       StatusDTO    `json:"status"`
	Priority     *PriorityDTO `json:"priority"`
	Tags         []TagDTO     `json:"tags"`
	Assignees    []UserDTO    `json:"assignees"`
	Parent       *string      `json:"parent"`
	List         Ref          `json:"list"`
	Folder       Ref          `json:"folder"`
	Space        Ref          `json:"space"`
	TimeSpent    Millis       `json:"time_spent"`
	TimeEstimate Millis       `json:"time_estimate"`
	DateCreated  Millis       `json:"date_created"`
	DateUpdated  Millis       `json:"date_updated"`
	DateDone     Millis       `json:"date_done"`
	DateClosed   Millis       `json:"date_closed"`
	DueDate      Millis       `json:"due_date"`
	Archived     bool         `json:"archived"`
}

func (t *TaskDTO) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task without id", ErrInvalidReply)
	}
	return nil
}

// ParentID returns the parent task id, or "" for a top-level task.
func (t *TaskDTO) ParentID() string {
	if t.Parent == nil {
		return ""
	}
	return *t.Parent
}

type TasksResponse struct {
	Tasks    []TaskDTO `json:"tasks"`
	LastPage bool      `json:"last_page"`
}

func (r *TasksResponse) Validate() error {
	for i := range r.Tasks {
		if err := r.Tasks[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

type IntervalDTO struct {
	ID    FlexID `json:"id"`
	Start Millis `json:"start"`
	End   Millis `json:"end"`
	Time  Millis `json:"time"`
}

// TrackedTimeDTO is one user's intervals on a task.
type TrackedTimeDTO struct {
	User      UserDTO       `json:"user"`
	Time      Millis        `json:"time"`
	Intervals []IntervalDTO `json:"intervals"`
}

type TrackedTimeResponse struct {
	Data []TrackedTimeDTO `json:"data"`
}

func (r *TrackedTimeResponse) Validate() error {
	for _, d := range r.Data {
		for _, in := range d.Intervals {
			if in.ID == "" {
				return fmt.Errorf("%w: interval without id", ErrInvalidReply)
			}
		}
	}
	return nil
}

type TaskLocationDTO struct {
	ListID   FlexID `json:"list_id"`
	FolderID FlexID `json:"folder_id"`
	SpaceID  FlexID `json:"space_id"`
}

type TimeEntryDTO struct {
	ID           FlexID          `json:"id"`
	Task         *Ref            `json:"task"`
	User         UserDTO         `json:"user"`
	Start        Millis          `json:"start"`
	End          Millis          `json:"end"`
	Duration     Millis          `json:"duration"`
	TaskLocation TaskLocationDTO `json:"task_location"`
}

// Model converts the entry, trusting End-Start over the reported
// duration whenever both ends are known. taskID fills in entries that
// arrive without a task reference.
func (e TimeEntryDTO) Model(taskID string) models.TimeEntry {
	m := models.TimeEntry{
		ID:       e.ID.String(),
		TaskID:   taskID,
		UserID:   e.User.ID.String(),
		Username: e.User.Username,
		Duration: e.Duration.Duration(),
	}
	if e.Task != nil && e.Task.ID != "" {
		m.TaskID = e.Task.ID.String()
		m.TaskTitle = e.Task.Name
	}
	if e.TaskLocation.ListID != "" {
		m.ListID = e.TaskLocation.ListID.String()
	}
	if t := e.Start.Time(); t != nil {
		m.Start = *t
	}
	if t := e.End.Time(); t != nil {
		m.End = *t
	}
	if !m.Start.IsZero() && !m.End.IsZero() && !m.End.Before(m.Start) {
		m.Duration = m.End.Sub(m.Start)
	} else if !m.Start.IsZero() && m.Duration > 0 {
		m.End = m.Start.Add(m.Duration)
	}
	return m
}

type TimeEntriesResponse struct {
	Data []TimeEntryDTO `json:"data"`
}

func (r *TimeEntriesResponse) Validate() error {
	for _, e := range r.Data {
		if e.ID == "" {
			return fmt.Errorf("%w: time entry without id", ErrInvalidReply)
		}
	}
	return nil
}
