package models

import (
	"time"

	"github.com/google/uuid"
)

type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

type JoinRequest struct {
	ID         uuid.UUID         `json:"id"`
	Subject    SubjectRef        `json:"subject"`
	UserID     uuid.UUID         `json:"userId"`
	Message    string            `json:"message,omitempty"`
	Status     JoinRequestStatus `json:"status"`
	CreatedAt  time.Time         `json:"createdAt"`
	ResolvedAt *time.Time        `json:"resolvedAt,omitempty"`
	ResolvedBy *uuid.UUID        `json:"resolvedBy,omitempty"`
}

// Decision is an admin's verdict on a pending join request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}
