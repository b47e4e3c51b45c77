package clickup

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const taskPageSize = 100

func (c *Client) Teams(ctx context.Context) ([]TeamDTO, error) {
	var resp TeamsResponse
	if err := c.Get(ctx, "/team", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Teams, nil
}

// TeamID returns the configured team, or the first one visible to the
// token. The answer is remembered.
func (c *Client) TeamID(ctx context.Context) (string, error) {
	c.teamMu.Lock()
	defer c.teamMu.Unlock()

	if c.teamID != "" {
		return c.teamID, nil
	}

	teams, err := c.Teams(ctx)
	if err != nil {
		return "", err
	}
	if len(teams) == 0 {
		return "", ErrNoTeam
	}
	c.teamID = teams[0].ID.String()
	return c.teamID, nil
}

func (c *Client) TeamMembers(ctx context.Context) ([]UserDTO, error) {
	teamID, err := c.TeamID(ctx)
	if err != nil {
		return nil, err
	}

	var resp TeamResponse
	if err := c.Get(ctx, "/team/"+teamID, nil, &resp); err != nil {
		return nil, err
	}

	users := make([]UserDTO, 0, len(resp.Team.Members))
	for _, m := range resp.Team.Members {
		if m.User.ID != "" {
			users = append(users, m.User)
		}
	}
	return users, nil
}

func (c *Client) Spaces(ctx context.Context) ([]SpaceDTO, error) {
	teamID, err := c.TeamID(ctx)
	if err != nil {
		return nil, err
	}

	var resp SpacesResponse
	if err := c.Get(ctx, "/team/"+teamID+"/space", url.Values{"archived": {"false"}}, &resp); err != nil {
		return nil, err
	}
	return resp.Spaces, nil
}

func (c *Client) Space(ctx context.Context, id string) (*SpaceDTO, error) {
	var resp SpaceDTO
	if err := c.Get(ctx, "/space/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Folders returns a space's folders, each with its lists.
func (c *Client) Folders(ctx context.Context, spaceID string) ([]FolderDTO, error) {
	var resp FoldersResponse
	if err := c.Get(ctx, "/space/"+spaceID+"/folder", url.Values{"archived": {"false"}}, &resp); err != nil {
		return nil, err
	}
	return resp.Folders, nil
}

func (c *Client) Folder(ctx context.Context, id string) (*FolderDTO, error) {
	var resp FolderDTO
	if err := c.Get(ctx, "/folder/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) FolderLists(ctx context.Context, folderID string) ([]ListDTO, error) {
	var resp ListsResponse
	if err := c.Get(ctx, "/folder/"+folderID+"/list", url.Values{"archived": {"false"}}, &resp); err != nil {
		return nil, err
	}
	return resp.Lists, nil
}

// FolderlessLists returns the lists that hang directly off a space.
func (c *Client) FolderlessLists(ctx context.Context, spaceID string) ([]ListDTO, error) {
	var resp ListsResponse
	if err := c.Get(ctx, "/space/"+spaceID+"/list", url.Values{"archived": {"false"}}, &resp); err != nil {
		return nil, err
	}
	return resp.Lists, nil
}

func (c *Client) List(ctx context.Context, id string) (*ListDTO, error) {
	var resp ListDTO
	if err := c.Get(ctx, "/list/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Task(ctx context.Context, id string) (*TaskDTO, error) {
	var resp TaskDTO
	if err := c.Get(ctx, "/task/"+id, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type TaskQuery struct {
	// UpdatedAfter selects tasks changed or created after the instant.
	UpdatedAfter *time.Time
	// SkipArchived leaves archived tasks out.
	SkipArchived bool
}

// ListTasks pages through every task of a list, including subtasks and
// closed tasks. With UpdatedAfter set it runs three filtered passes
// (updated, created, archived-updated) since the API ANDs its filters.
func (c *Client) ListTasks(ctx context.Context, listID string, q TaskQuery) ([]TaskDTO, error) {
	var passes []url.Values
	base := url.Values{"subtasks": {"true"}, "include_closed": {"true"}}

	withFilter := func(archived bool, key string) url.Values {
		p := cloneValues(base)
		p.Set("archived", strconv.FormatBool(archived))
		if key != "" && q.UpdatedAfter != nil {
			p.Set(key, ToMillis(*q.UpdatedAfter))
		}
		return p
	}

	if q.UpdatedAfter == nil {
		passes = append(passes, withFilter(false, ""))
		if !q.SkipArchived {
			passes = append(passes, withFilter(true, ""))
		}
	} else {
		passes = append(passes, withFilter(false, "date_updated_gt"), withFilter(false, "date_created_gt"))
		if !q.SkipArchived {
			passes = append(passes, withFilter(true, "date_updated_gt"))
		}
	}

	seen := make(map[FlexID]struct{})
	var tasks []TaskDTO
	for _, params := range passes {
		for page := 0; ; page++ {
			params.Set("page", strconv.Itoa(page))

			var resp TasksResponse
			if err := c.Get(ctx, "/list/"+listID+"/task", params, &resp); err != nil {
				return nil, fmt.Errorf("list %s page %d: %w", listID, page, err)
			}
			for _, t := range resp.Tasks {
				if _, ok := seen[t.ID]; ok {
					continue
				}
				seen[t.ID] = struct{}{}
				tasks = append(tasks, t)
			}
			if resp.LastPage || len(resp.Tasks) < taskPageSize {
				break
			}
		}
	}
	return tasks, nil
}

// TasksForLists fetches many lists concurrently and merges the results.
// Any list failing fails the whole call.
func (c *Client) TasksForLists(ctx context.Context, listIDs []string, q TaskQuery, workers int) ([]TaskDTO, error) {
	results, errs := FanOut(ctx, listIDs, workers, c.maxWorkers, func(ctx context.Context, id string) ([]TaskDTO, error) {
		return c.ListTasks(ctx, id, q)
	})
	for _, id := range listIDs {
		if err := errs[id]; err != nil {
			return nil, err
		}
	}

	seen := make(map[FlexID]struct{})
	var tasks []TaskDTO
	for _, id := range listIDs {
		for _, t := range results[id] {
			if _, ok := seen[t.ID]; ok {
				continue
			}
			seen[t.ID] = struct{}{}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// TaskTimeEntries returns the tracked intervals of one task, one entry per
// interval.
func (c *Client) TaskTimeEntries(ctx context.Context, taskID string) ([]TimeEntryDTO, error) {
	var resp TrackedTimeResponse
	if err := c.Get(ctx, "/task/"+taskID+"/time", nil, &resp); err != nil {
		return nil, err
	}

	var entries []TimeEntryDTO
	for _, d := range resp.Data {
		for _, in := range d.Intervals {
			entries = append(entries, TimeEntryDTO{
				ID:       in.ID,
				Task:     &Ref{ID: FlexID(taskID)},
				User:     d.User,
				Start:    in.Start,
				End:      in.End,
				Duration: in.Time,
			})
		}
	}
	return entries, nil
}

// TimeEntriesBatch fetches the intervals of many tasks under the shared
// worker ceiling. Failures are reported per task id.
func (c *Client) TimeEntriesBatch(ctx context.Context, taskIDs []string, workers int) (map[string][]TimeEntryDTO, map[string]error) {
	return FanOut(ctx, taskIDs, workers, c.maxWorkers, c.TaskTimeEntries)
}

// TeamTimeEntries returns entries started in [start, end). With no
// assignees given it asks for every member, as the API otherwise only
// returns the token owner's entries.
func (c *Client) TeamTimeEntries(ctx context.Context, start, end time.Time, assignees []string) ([]TimeEntryDTO, error) {
	teamID, err := c.TeamID(ctx)
	if err != nil {
		return nil, err
	}

	if len(assignees) == 0 {
		members, err := c.TeamMembers(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			assignees = append(assignees, m.ID.String())
		}
		sort.Strings(assignees)
	}

	params := url.Values{
		"start_date": {ToMillis(start)},
		"end_date":   {ToMillis(end)},
	}
	if len(assignees) > 0 {
		params.Set("assignee", strings.Join(assignees, ","))
	}

	var resp TimeEntriesResponse
	if err := c.Get(ctx, "/team/"+teamID+"/time_entries", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
