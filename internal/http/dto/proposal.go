package dto

import "crewloop.app/core/internal/proposal"

type RejectProposalRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=2048"`
}

type ProposalDecisionResponse struct {
	Status        string             `json:"status"`
	Proposal      *proposal.Proposal `json:"proposal"`
	CommitHash    string             `json:"commit_hash,omitempty"`
	AutoCommitted bool               `json:"auto_committed"`
}

type ListProposalsResponse struct {
	Proposals []proposal.Proposal `json:"proposals"`
	Count     int                 `json:"count"`
}
