package models

import (
	"strings"
	"time"
)

type NodeType string

const (
	NodeWorkspace NodeType = "workspace"
	NodeSpace     NodeType = "space"
	NodeFolder    NodeType = "folder"
	NodeList      NodeType = "list"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeSpace, NodeFolder, NodeList:
		return true
	}
	return false
}

// HierarchyNode is one level of the workspace tree. ParentID is a lookup
// reference only; a list's parent is either a folder or, when folderless,
// the space itself.
type HierarchyNode struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Type     NodeType        `json:"type" yaml:"type"`
	ParentID string          `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Children []HierarchyNode `json:"children,omitempty" yaml:"children,omitempty"`
}

type StatusCategory string

const (
	CategoryNotStarted StatusCategory = "not_started"
	CategoryActive     StatusCategory = "active"
	CategoryDone       StatusCategory = "done"
	CategoryClosed     StatusCategory = "closed"
	CategoryOther      StatusCategory = "other"
)

var statusOverrides = map[string]StatusCategory{
	"BACKLOG":               CategoryNotStarted,
	"QUEUED":                CategoryNotStarted,
	"QUEUE":                 CategoryNotStarted,
	"IN QUEUE":              CategoryNotStarted,
	"TO DO":                 CategoryNotStarted,
	"TO-DO":                 CategoryNotStarted,
	"PENDING":               CategoryNotStarted,
	"OPEN":                  CategoryNotStarted,
	"IN PLANNING":           CategoryNotStarted,
	"SCOPING":               CategoryActive,
	"IN DESIGN":             CategoryActive,
	"DEV":                   CategoryActive,
	"IN DEVELOPMENT":        CategoryActive,
	"DEVELOPMENT":           CategoryActive,
	"REVIEW":                CategoryActive,
	"IN REVIEW":             CategoryActive,
	"TESTING":               CategoryActive,
	"QA":                    CategoryActive,
	"BUG":                   CategoryActive,
	"BLOCKED":               CategoryActive,
	"WAITING":               CategoryActive,
	"STAGING DEPLOY":        CategoryActive,
	"READY FOR DEVELOPMENT": CategoryActive,
	"READY FOR PRODUCTION":  CategoryActive,
	"IN PROGRESS":           CategoryActive,
	"ON HOLD":               CategoryActive,
	"SHIPPED":               CategoryDone,
	"RELEASE":               CategoryDone,
	"COMPLETE":              CategoryDone,
	"DONE":                  CategoryDone,
	"RESOLVED":              CategoryDone,
	"PROD":                  CategoryDone,
	"QC CHECK":              CategoryDone,
	"CANCELLED":             CategoryClosed,
	"CLOSED":                CategoryClosed,
}

// CategorizeStatus maps a workspace-specific status name onto a fixed
// category. Known names win; otherwise the remote status type decides.
func CategorizeStatus(name, statusType string) StatusCategory {
	if c, ok := statusOverrides[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return c
	}
	switch strings.ToLower(statusType) {
	case "open":
		return CategoryNotStarted
	case "custom":
		return CategoryActive
	case "done":
		return CategoryDone
	case "closed":
		return CategoryClosed
	}
	return CategoryOther
}

type Task struct {
	ID              string // remote id
	Title           string
	Description     string
	Status          string
	StatusType      string
	Category        StatusCategory
	Priority        string
	Tags            []string
	AssigneeIDs     []string
	AssigneeNames   []string
	EmployeeIDs     []int64
	ParentID        *string // nullable, may live in another list
	SpaceID         string
	SpaceName       string
	FolderID        string
	FolderName      string
	ListID          string
	ListName        string
	TrackedMinutes  int64
	EstimateMinutes int64
	StartTimes      []time.Time // latest first
	EndTimes        []time.Time
	DateCreated     *time.Time
	DateUpdated     *time.Time
	DateDone        *time.Time
	DateClosed      *time.Time
	DueDate         *time.Time
	Archived        bool
	IsDeleted       bool
	SyncedAt        time.Time
}

type TimeEntry struct {
	ID       string // remote id
	TaskID   string
	UserID   string
	Username string
	Start    time.Time
	End      time.Time
	Duration time.Duration
	SyncedAt time.Time

	// Joined fields
	TaskTitle string
	ListID    string
	ListName  string
}

type Employee struct {
	ID           int64
	RemoteUserID string
	Name         string
	Email        string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type ProjectMapping struct {
	Alias     string
	RemoteID  string
	Type      NodeType
	Name      string
	Structure HierarchyNode
	LastSync  *time.Time
	CreatedAt time.Time
}

type SyncState struct {
	LastSuccessAt *time.Time
	RunCount      int64
	LastMode      string
	LastError     string
	UpdatedAt     time.Time
}
