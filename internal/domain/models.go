package domain

import "time"

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

type User struct {
	ID          string
	Name        string
	GitHubLogin string
	Role        Role
	IsActive    bool
	XP          int
	Level       int
}

type Project struct {
	ID        string
	Title     string
	RepoOwner string
	RepoName  string
	XPReward  int
}

type PRStatus string

const (
	PRStatusOpen   PRStatus = "OPEN"
	PRStatusMerged PRStatus = "MERGED"
	PRStatusClosed PRStatus = "CLOSED"
)

func (s PRStatus) IsValid() bool {
	switch s {
	case PRStatusOpen, PRStatusMerged, PRStatusClosed:
		return true
	}
	return false
}

func (s PRStatus) IsTerminal() bool {
	return s == PRStatusMerged
}

func (s PRStatus) CanTransitionTo(next PRStatus) bool {
	switch s {
	case PRStatusOpen:
		return next == PRStatusMerged || next == PRStatusClosed
	case PRStatusClosed:
		return next == PRStatusOpen
	}
	return false
}

type Submission struct {
	ID            string
	UserID        string
	ProjectID     string
	GitHubPRURL   string
	PRNumber      int
	PRTitle       string
	PRDescription string
	PRStatus      PRStatus
	CIPassed      bool
	TestsPassed   bool
	LintPassed    bool
	MergedAt      *time.Time
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CIFlags is the CI-derived part of a submission.
type CIFlags struct {
	CIPassed    bool
	TestsPassed bool
	LintPassed  bool
}

type AssignmentType string

const (
	AssignmentTypePeer  AssignmentType = "PEER"
	AssignmentTypeAdmin AssignmentType = "ADMIN"
)

func (t AssignmentType) IsValid() bool {
	return t == AssignmentTypePeer || t == AssignmentTypeAdmin
}

type AssignmentStatus string

const (
	AssignmentStatusAssigned  AssignmentStatus = "ASSIGNED"
	AssignmentStatusAccepted  AssignmentStatus = "ACCEPTED"
	AssignmentStatusDeclined  AssignmentStatus = "DECLINED"
	AssignmentStatusCompleted AssignmentStatus = "COMPLETED"
)

func (s AssignmentStatus) IsValid() bool {
	switch s {
	case AssignmentStatusAssigned, AssignmentStatusAccepted, AssignmentStatusDeclined, AssignmentStatusCompleted:
		return true
	}
	return false
}

func (s AssignmentStatus) IsActive() bool {
	return s == AssignmentStatusAssigned || s == AssignmentStatusAccepted
}

func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	switch s {
	case AssignmentStatusAssigned:
		return next == AssignmentStatusAccepted || next == AssignmentStatusDeclined
	case AssignmentStatusAccepted:
		return next == AssignmentStatusCompleted
	}
	return false
}

type ReviewAssignment struct {
	ID           string
	SubmissionID string
	ReviewerID   string
	Type         AssignmentType
	Status       AssignmentStatus
	Priority     int
	DueDate      time.Time
	RespondedAt  *time.Time
	CreatedAt    time.Time
}

func (a ReviewAssignment) IsOverdue(now time.Time) bool {
	return a.Status == AssignmentStatusAssigned && now.After(a.DueDate)
}

type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "PENDING"
	ReviewStatusInProgress ReviewStatus = "IN_PROGRESS"
	ReviewStatusCompleted  ReviewStatus = "COMPLETED"
)

type Review struct {
	ID           string
	AssignmentID string
	SubmissionID string
	ReviewerID   string
	Status       ReviewStatus
	OverallScore *int
	Feedback     string
	SubmittedAt  *time.Time
}

const (
	MinReviewScore = 0
	MaxReviewScore = 100
)

type UserAchievement struct {
	UserID        string
	AchievementID string
	UnlockedAt    time.Time
}

type NotificationType string

const (
	NotificationAchievementUnlocked NotificationType = "ACHIEVEMENT_UNLOCKED"
	NotificationPRMerged            NotificationType = "PR_MERGED"
	NotificationPRStatusChanged     NotificationType = "PR_STATUS_CHANGED"
	NotificationSubmissionReceived  NotificationType = "SUBMISSION_RECEIVED"
	NotificationReviewAssigned      NotificationType = "REVIEW_ASSIGNED"
	NotificationReviewCompleted     NotificationType = "REVIEW_COMPLETED"
	NotificationReviewReceived      NotificationType = "REVIEW_RECEIVED"
)

type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// XPGrant records the one-time XP reward of a merged submission.
type XPGrant struct {
	SubmissionID string
	UserID       string
	Amount       int
	GrantedAt    time.Time
}
