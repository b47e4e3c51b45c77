package mirror

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/emilianohg/clickmirror/internal/clickup"
	"github.com/emilianohg/clickmirror/internal/models"
	"github.com/emilianohg/clickmirror/internal/structure"
)

var errNoList = errors.New("task has no list")

// transformTask turns an API task and its time entries into mirror rows.
// Entries are deduplicated by id and ordered latest first; the session
// arrays on the task follow the same order.
func transformTask(dto clickup.TaskDTO, dtos []clickup.TimeEntryDTO, locs map[string]structure.ListLocation, employees map[string]int64, now time.Time) (*models.Task, []models.TimeEntry, error) {
	listID := dto.List.ID.String()
	if listID == "" {
		return nil, nil, errNoList
	}

	t := &models.Task{
		ID:              dto.ID.String(),
		Title:           dto.Name,
		Description:     firstNonEmpty(dto.TextContent, dto.Description),
		Status:          dto.Status.Status,
		StatusType:      dto.Status.Type,
		Category:        models.CategorizeStatus(dto.Status.Status, dto.Status.Type),
		ListID:          listID,
		ListName:        dto.List.Name,
		SpaceID:         dto.Space.ID.String(),
		TrackedMinutes:  minutes(dto.TimeSpent.Duration()),
		EstimateMinutes: minutes(dto.TimeEstimate.Duration()),
		DateCreated:     dto.DateCreated.Time(),
		DateUpdated:     dto.DateUpdated.Time(),
		DateDone:        dto.DateDone.Time(),
		DateClosed:      dto.DateClosed.Time(),
		DueDate:         dto.DueDate.Time(),
		Archived:        dto.Archived,
		SyncedAt:        now,
	}
	if !dto.Folder.Hidden {
		t.FolderID, t.FolderName = dto.Folder.ID.String(), dto.Folder.Name
	}
	if loc, ok := locs[listID]; ok {
		t.ListName = firstNonEmpty(loc.ListName, t.ListName)
		t.FolderID, t.FolderName = loc.FolderID, loc.FolderName
		t.SpaceID, t.SpaceName = firstNonEmpty(loc.SpaceID, t.SpaceID), loc.SpaceName
	}
	if pid := dto.ParentID(); pid != "" {
		t.ParentID = &pid
	}
	if dto.Priority != nil {
		t.Priority = dto.Priority.Priority
	}
	for _, tag := range dto.Tags {
		t.Tags = append(t.Tags, tag.Name)
	}
	for _, a := range dto.Assignees {
		id := a.ID.String()
		t.AssigneeIDs = append(t.AssigneeIDs, id)
		t.AssigneeNames = append(t.AssigneeNames, a.Username)
		if emp, ok := employees[id]; ok {
			t.EmployeeIDs = append(t.EmployeeIDs, emp)
		}
	}

	entries := sessions(t.ID, dtos, now)
	for _, e := range entries {
		t.StartTimes = append(t.StartTimes, e.Start)
		t.EndTimes = append(t.EndTimes, e.End)
	}
	return t, entries, nil
}

func sessions(taskID string, dtos []clickup.TimeEntryDTO, now time.Time) []models.TimeEntry {
	seen := make(map[string]struct{}, len(dtos))
	var out []models.TimeEntry
	for _, d := range dtos {
		e := d.Model(taskID)
		if e.ID == "" || e.Start.IsZero() {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		// entries are stored against the task they were fetched for
		e.TaskID = taskID
		if e.End.IsZero() {
			// a timer still running
			e.End = now
			e.Duration = now.Sub(e.Start)
		}
		e.SyncedAt = now
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.After(out[j].Start) })
	return out
}

func minutes(d time.Duration) int64 {
	return int64(d.Round(time.Minute) / time.Minute)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
